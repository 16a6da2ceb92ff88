package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// listProbeText is the fixed query used to pull every document when
// listing; chromem only exposes similarity queries, and ordering is
// redone by finish time afterwards.
const listProbeText = "remediation run history"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/remend/history"
	Path string

	// Collection is the collection holding run entries.
	// Default: "remend_history"
	Collection string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/remend/history"
	}
	if c.Collection == "" {
		c.Collection = "remend_history"
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	return validateCollectionName(c.Collection)
}

// ChromemStore implements Store on chromem-go, an embeddable pure-Go
// vector database with gob-file persistence. No external service is
// needed, which makes it the default provider.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the persistent database and its
// run collection.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path, err := expandHome(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem db: %v", ErrConnectionFailed, err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, store.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", config.Collection, err)
	}
	store.collection = collection

	logger.Info("history store ready",
		zap.String("provider", "chromem"),
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Int("entries", collection.Count()),
	)

	return store, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's callback shape.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Save stores one entry. chromem documents are keyed by ID, so saving
// the same run twice overwrites the earlier document.
func (s *ChromemStore) Save(ctx context.Context, entry Entry) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", entry.RunID),
		attribute.String("collection", s.config.Collection),
	)

	if entry.RunID == "" {
		return fmt.Errorf("history: entry needs a run id")
	}

	payload, err := encodeEntry(entry)
	if err != nil {
		span.RecordError(err)
		return err
	}

	content := summaryText(entry)
	embeddings, err := s.embedder.EmbedDocuments(ctx, []string{content})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	doc := chromem.Document{
		ID:      entry.RunID,
		Content: content,
		Metadata: map[string]string{
			"run_id":      entry.RunID,
			"project":     entry.Project,
			"finished_at": entry.FinishedAt.UTC().Format(time.RFC3339),
			"entry":       payload,
		},
		Embedding: embeddings[0],
	}

	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding history document: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("saved run to history",
		zap.String("run_id", entry.RunID),
		zap.Int("final_total", entry.FinalTotal),
	)
	return nil
}

// List returns the most recent entries, newest first.
func (s *ChromemStore) List(ctx context.Context, limit int) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.List")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, listProbeText, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing history: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		entry, err := decodeEntry(r.Metadata["entry"])
		if err != nil {
			s.logger.Warn("skipping undecodable history document",
				zap.String("id", r.ID),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	sortNewestFirst(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	span.SetAttributes(attribute.Int("results_count", len(entries)))
	span.SetStatus(codes.Ok, "success")
	return entries, nil
}

// Search returns entries ranked by similarity to the query.
func (s *ChromemStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("history: query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects result counts above the document count
	if limit > count {
		limit = count
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching history: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		entry, err := decodeEntry(r.Metadata["entry"])
		if err != nil {
			s.logger.Warn("skipping undecodable history document",
				zap.String("id", r.ID),
				zap.Error(err))
			continue
		}
		hits = append(hits, SearchHit{Entry: entry, Score: r.Similarity})
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Close is a no-op: chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}
