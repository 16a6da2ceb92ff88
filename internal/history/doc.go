// Package history persists finished remediation runs and makes them
// searchable.
//
// Two providers implement the Store interface: an embedded chromem-go
// database (the default, zero external services) and a remote Qdrant
// collection over gRPC. Both store one document per run: a compact
// text summary for similarity search plus the full entry as JSON in
// the document payload.
//
// Embeddings are computed locally with a deterministic feature-hashing
// embedder, so lookups never leave the machine and two runs with the
// same summary always map to the same vector.
package history
