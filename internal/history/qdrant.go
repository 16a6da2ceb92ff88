package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// scrollCap bounds how many points a listing pulls before sorting by
// finish time. Run history grows by one point per run, so the cap is
// generous.
const scrollCap = 1000

// QdrantConfig holds configuration for the remote Qdrant provider.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against a secured Qdrant instance.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection holds run entries. Default: "remend_history"
	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// MaxRetries is the retry budget for transient gRPC failures.
	// Default: 2
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry.
	// Default: 500ms
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "remend_history"
	}
	if c.VectorSize == 0 {
		c.VectorSize = EmbeddingDim
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return validateCollectionName(c.Collection)
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store on Qdrant's native gRPC client. Useful
// when history should be shared across machines or teams; the embedded
// chromem provider covers the single-machine case.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore connects to Qdrant, verifies health, and ensures the
// run collection exists.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
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

	if !config.UseTLS {
		logger.Warn("qdrant history store using plaintext gRPC",
			zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("history store ready",
		zap.String("provider", "qdrant"),
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// ensureCollection creates the run collection when missing.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		ex, err := s.client.CollectionExists(ctx, s.config.Collection)
		if err != nil {
			return err
		}
		exists = ex
		return nil
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// retryOperation retries transient gRPC failures with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// Save stores one entry, upserting on the run ID.
func (s *QdrantStore) Save(ctx context.Context, entry Entry) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Save")
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

	// Point IDs must be UUIDs; run IDs are, but fall back to a fresh one
	// and keep the original in the payload.
	pointID := entry.RunID
	if _, err := uuid.Parse(pointID); err != nil {
		pointID = uuid.New().String()
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID),
		Vectors: qdrant.NewVectors(embeddings[0]...),
		Payload: map[string]*qdrant.Value{
			"content":     {Kind: &qdrant.Value_StringValue{StringValue: content}},
			"run_id":      {Kind: &qdrant.Value_StringValue{StringValue: entry.RunID}},
			"project":     {Kind: &qdrant.Value_StringValue{StringValue: entry.Project}},
			"finished_at": {Kind: &qdrant.Value_StringValue{StringValue: entry.FinishedAt.UTC().Format(time.RFC3339)}},
			"final_total": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(entry.FinalTotal)}},
			"target_met":  {Kind: &qdrant.Value_BoolValue{BoolValue: entry.TargetMet}},
			"entry":       {Kind: &qdrant.Value_StringValue{StringValue: payload}},
		},
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting history point: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("saved run to history",
		zap.String("run_id", entry.RunID),
		zap.Int("final_total", entry.FinalTotal),
	)
	return nil
}

// List returns the most recent entries, newest first.
func (s *QdrantStore) List(ctx context.Context, limit int) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.List")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Limit:          qdrant.PtrOf(uint32(scrollCap)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing history: %w", err)
	}

	entries := make([]Entry, 0, len(points))
	for _, p := range points {
		entry, ok := entryFromPayload(p.Payload)
		if !ok {
			s.logger.Warn("skipping undecodable history point")
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
func (s *QdrantStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("history: query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching history: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, p := range results {
		entry, ok := entryFromPayload(p.Payload)
		if !ok {
			s.logger.Warn("skipping undecodable history point")
			continue
		}
		hits = append(hits, SearchHit{Entry: entry, Score: p.Score})
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// entryFromPayload restores an entry from a point payload.
func entryFromPayload(payload map[string]*qdrant.Value) (Entry, bool) {
	v, ok := payload["entry"]
	if !ok {
		return Entry{}, false
	}
	sv, ok := v.Kind.(*qdrant.Value_StringValue)
	if !ok {
		return Entry{}, false
	}
	entry, err := decodeEntry(sv.StringValue)
	if err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
