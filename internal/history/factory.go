package history

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// collectionNamePattern restricts collection names to lowercase letters,
// digits, and underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// validateCollectionName rejects names that could escape the store
// namespace (uppercase, path separators, spaces).
func validateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidConfig)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
	}
	return nil
}

// Config selects and configures a history provider.
type Config struct {
	// Provider is "chromem" (default, embedded) or "qdrant" (remote).
	Provider string
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
}

// New creates a Store for the configured provider. Embeddings always
// come from the local hashing embedder, so provider choice only affects
// where vectors live.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	embedder := NewHashingEmbedder()

	switch cfg.Provider {
	case "chromem", "":
		store, err := NewChromemStore(cfg.Chromem, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "qdrant":
		if cfg.Qdrant.VectorSize == 0 {
			cfg.Qdrant.VectorSize = uint64(embedder.Dimensions())
		}
		store, err := NewQdrantStore(cfg.Qdrant, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
