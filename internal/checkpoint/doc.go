// Package checkpoint captures restorable snapshots of a git working tree.
//
// A snapshot stores every non-ignored regular file as a blob in the
// repository object database (content-addressed, so unchanged files cost
// nothing) together with a path manifest. Restore rewrites the tree to the
// manifest exactly: modified files are reverted, files created after the
// snapshot are deleted, files deleted after the snapshot come back. HEAD,
// the index and all refs are left untouched, so a run never disturbs the
// user's branch state.
//
// Gitignored files are outside the snapshot, matching what
// `git reset --hard && git clean -fd` would preserve.
package checkpoint
