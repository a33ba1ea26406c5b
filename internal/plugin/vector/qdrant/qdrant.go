package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/recallstack/memory-infra/internal/config"
	registrymigrate "github.com/recallstack/memory-infra/internal/registry/migrate"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// qdrantMigrator creates the cosine collection at startup.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	conn, err := grpc.NewClient(qdrantAddress(cfg), dialOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("qdrant migrate: connect: %w", err)
	}
	defer conn.Close()

	client := pb.NewCollectionsClient(conn)

	_, err = client.Get(migrateCtx, &pb.GetCollectionInfoRequest{CollectionName: cfg.QdrantCollectionName})
	if err == nil {
		return nil // collection exists
	}

	_, err = client.Create(migrateCtx, &pb.CreateCollection{
		CollectionName: cfg.QdrantCollectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     embeddingDimension(cfg),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant migrate: create collection: %w", err)
	}
	log.Info("Created Qdrant collection", "name", cfg.QdrantCollectionName)
	return nil
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := grpc.NewClient(qdrantAddress(cfg), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Store{
		points:         pb.NewPointsClient(conn),
		conn:           conn,
		collectionName: cfg.QdrantCollectionName,
	}, nil
}

// Store keeps all users in one qdrant collection; per-user isolation is a
// mandatory user_id payload filter on every read and write path.
type Store struct {
	points         pb.PointsClient
	conn           *grpc.ClientConn
	collectionName string
}

func (s *Store) Name() string { return "qdrant" }

// Init is a no-op: the collection is provisioned by the migrator and qdrant
// payload filters need no per-user setup.
func (s *Store) Init(_ context.Context, _ string) error { return nil }

func (s *Store) Upsert(ctx context.Context, userID, docID string, vec []float32, payload registryvector.Payload) error {
	point := &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: vec},
			},
		},
		Payload: map[string]*pb.Value{
			"user_id":    {Kind: &pb.Value_StringValue{StringValue: userID}},
			"type":       {Kind: &pb.Value_StringValue{StringValue: payload.Type}},
			"title":      {Kind: &pb.Value_StringValue{StringValue: payload.Title}},
			"created_at": {Kind: &pb.Value_StringValue{StringValue: payload.CreatedAt.UTC().Format(time.RFC3339Nano)}},
			"extra":      {Kind: &pb.Value_StringValue{StringValue: marshalExtra(payload.Extra)}},
		},
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         []*pb.PointStruct{point},
	})
	return err
}

func (s *Store) Search(ctx context.Context, userID string, query []float32, limit int, threshold float64, typeFilter string) ([]registryvector.SearchResult, error) {
	scoreThreshold := float32(threshold)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collectionName,
		Vector:         query,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         s.filter(userID, typeFilter),
	})
	if err != nil {
		return nil, err
	}

	var results []registryvector.SearchResult
	for _, pt := range resp.GetResult() {
		results = append(results, registryvector.SearchResult{
			DocID:   pt.GetId().GetUuid(),
			Score:   float64(pt.GetScore()),
			Payload: payloadFrom(pt.GetPayload()),
		})
	}
	// qdrant orders by score; pin the doc_id tie-break locally.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results, nil
}

func (s *Store) Delete(ctx context.Context, userID, docID string) (bool, error) {
	vec, err := s.GetVector(ctx, userID, docID)
	if err != nil {
		return false, err
	}
	if vec == nil {
		return false, nil
	}
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{ConditionOneOf: &pb.Condition_HasId{
							HasId: &pb.HasIdCondition{
								HasId: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}}},
							},
						}},
						fieldMatch("user_id", userID),
					},
				},
			},
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetVector(ctx context.Context, userID, docID string) ([]float32, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}
	for _, pt := range resp.GetResult() {
		if owner, ok := pt.GetPayload()["user_id"]; !ok || owner.GetStringValue() != userID {
			continue
		}
		return pt.GetVectors().GetVector().GetData(), nil
	}
	return nil, nil
}

func (s *Store) All(ctx context.Context, userID string) ([]registryvector.StoredVector, error) {
	var out []registryvector.StoredVector
	var offset *pb.PointId
	pageSize := uint32(256)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collectionName,
			Filter:         s.filter(userID, ""),
			Limit:          &pageSize,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, err
		}
		for _, pt := range resp.GetResult() {
			out = append(out, registryvector.StoredVector{
				DocID:   pt.GetId().GetUuid(),
				Vector:  pt.GetVectors().GetVector().GetData(),
				Payload: payloadFrom(pt.GetPayload()),
			})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (s *Store) filter(userID, typeFilter string) *pb.Filter {
	must := []*pb.Condition{fieldMatch("user_id", userID)}
	if typeFilter != "" {
		must = append(must, fieldMatch("type", typeFilter))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func payloadFrom(fields map[string]*pb.Value) registryvector.Payload {
	p := registryvector.Payload{}
	if v, ok := fields["type"]; ok {
		p.Type = v.GetStringValue()
	}
	if v, ok := fields["title"]; ok {
		p.Title = v.GetStringValue()
	}
	if v, ok := fields["created_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			p.CreatedAt = ts
		}
	}
	if v, ok := fields["extra"]; ok && v.GetStringValue() != "" {
		var extra map[string]interface{}
		if err := json.Unmarshal([]byte(v.GetStringValue()), &extra); err == nil {
			p.Extra = extra
		}
	}
	return p
}

func marshalExtra(extra map[string]interface{}) string {
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(data)
}

func qdrantAddress(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort)
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

func embeddingDimension(cfg *config.Config) uint64 {
	if cfg.EmbedType == "openai" {
		if cfg.OpenAIDimensions > 0 {
			return uint64(cfg.OpenAIDimensions)
		}
		return 1536
	}
	if cfg.EmbeddingDimension > 0 {
		return uint64(cfg.EmbeddingDimension)
	}
	return 512
}

var _ registryvector.VectorStore = (*Store)(nil)
