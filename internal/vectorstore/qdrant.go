package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL    string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey string
}

// QdrantStore implements Store backed by Qdrant.
type QdrantStore struct {
	client *qdrant.Client
	logger *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vectorstore: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vectorstore: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantStore connects to the Qdrant server via gRPC.
func NewQdrantStore(cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantStore{client: client, logger: logger}, nil
}

// EnsureCollections creates missing collections and ensures payload indexes
// are present. Index creation is always attempted regardless of whether the
// collection pre-existed. CreateFieldIndex is idempotent on Qdrant, so this
// safely backfills any indexes added after the collection was first created.
func (q *QdrantStore) EnsureCollections(ctx context.Context, dims int, collections ...string) error {
	for _, collection := range collections {
		exists, err := q.client.CollectionExists(ctx, collection)
		if err != nil {
			return fmt.Errorf("vectorstore: check collection exists: %w", err)
		}

		if !exists {
			m := uint64(16)
			efConstruct := uint64(128)

			if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dims), //nolint:gosec // dims validated positive by config
					Distance: qdrant.Distance_Cosine,
					HnswConfig: &qdrant.HnswConfigDiff{
						M:           &m,
						EfConstruct: &efConstruct,
					},
				}),
			}); err != nil {
				return fmt.Errorf("vectorstore: create collection %q: %w", collection, err)
			}
			q.logger.Info("qdrant: created collection", "collection", collection, "dims", dims)
		}

		keywordType := qdrant.FieldType_FieldTypeKeyword
		for _, field := range []string{"project", "status", "category", "kind", "source_conversation", "local_id"} {
			if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: collection,
				FieldName:      field,
				FieldType:      &keywordType,
			}); err != nil {
				return fmt.Errorf("vectorstore: ensure index on %q: %w", field, err)
			}
		}

		floatType := qdrant.FieldType_FieldTypeFloat
		for _, field := range []string{"epistemic_tier", "confidence"} {
			if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: collection,
				FieldName:      field,
				FieldType:      &floatType,
			}); err != nil {
				return fmt.Errorf("vectorstore: ensure index on %q: %w", field, err)
			}
		}
	}
	return nil
}

// Upsert inserts or replaces a point. Idempotent on rec.ID.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, rec Record) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(rec.ID),
		Vectors: qdrant.NewVectorsDense(rec.Vector),
		Payload: qdrant.NewValueMap(rec.Payload),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Get fetches one point by id, or ErrNotFound.
func (q *QdrantStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant get %s/%s: %w", collection, id, err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}

	p := points[0]
	return &Record{
		ID:      p.Id.GetUuid(),
		Vector:  p.Vectors.GetVector().GetData(),
		Payload: payloadToMap(p.Payload),
	}, nil
}

// Delete removes one point by id. Deleting a missing id is a no-op.
func (q *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(id)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Search queries a collection by cosine similarity with conjunctive
// equality filters.
func (q *QdrantStore) Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		k = 20
	}

	limit := uint64(k) //nolint:gosec // k is bounded by callers
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(query),
		Filter:         qdrantFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		hits = append(hits, Hit{
			ID:      idStr,
			Score:   sp.Score,
			Payload: payloadToMap(sp.Payload),
		})
	}
	return hits, nil
}

// List enumerates up to limit points matching the filter via scroll.
func (q *QdrantStore) List(ctx context.Context, collection string, filter Filter, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	scrollLimit := uint32(limit) //nolint:gosec // limit is bounded by callers
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         qdrantFilter(filter),
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant scroll %s: %w", collection, err)
	}

	records := make([]Record, 0, len(points))
	for _, p := range points {
		records = append(records, Record{
			ID:      p.Id.GetUuid(),
			Vector:  p.Vectors.GetVector().GetData(),
			Payload: payloadToMap(p.Payload),
		})
	}
	return records, nil
}

// Count returns the number of points matching the filter.
func (q *QdrantStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         qdrantFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: qdrant count %s: %w", collection, err)
	}
	return int(n), nil //nolint:gosec // collection sizes fit in int
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every request. Concurrent calls
// after cache expiry are deduplicated via singleflight so only one gRPC call
// is made; all waiters share its result.
func (q *QdrantStore) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context;
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			q.storeHealthErr(fmt.Errorf("vectorstore: qdrant unhealthy: %w", err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantStore) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantStore) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func qdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, val := range filter {
		must = append(must, qdrant.NewMatch(key, val))
	}
	return &qdrant.Filter{Must: must}
}

// payloadToMap converts a Qdrant payload into plain Go values.
func payloadToMap(p map[string]*qdrant.Value) map[string]any {
	if len(p) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		vals := kind.ListValue.GetValues()
		out := make([]any, 0, len(vals))
		for _, e := range vals {
			out = append(out, valueToAny(e))
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
