// Package qdrant is the Qdrant-backed search index: one collection, one point per document.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Payload keys.
const (
	payloadContent    = "content"
	payloadDepartment = "department"
	payloadSourceKey  = "source_key"
	payloadIndexedAt  = "indexed_at"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(
		ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption,
	) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store implements the document index contract over Qdrant gRPC.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	vector      domain.VectorConfig

	mu      sync.Mutex
	ensured bool
}

// New dials Qdrant at addr (host:6334).
func New(addr, collection string, vector domain.VectorConfig) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, vector)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, vector domain.VectorConfig) *Store {
	return &Store{points: points, collections: collections, collection: collection, vector: vector}
}

// Close closes the gRPC connection when New dialed it.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Ping lists collections as a liveness probe.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant list collections: %w", err)
	}
	return nil
}

// EnsureIndex creates the collection and the department keyword index when absent.
func (s *Store) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w: %w", err, domain.ErrIndexUnavailable)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			s.ensured = true
			return nil
		}
	}

	distance, err := toDistance(s.vector.DistanceMetric)
	if err != nil {
		return err
	}
	m := uint64(s.vector.HNSWM)
	ef := uint64(s.vector.HNSWEFConstruct)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		HnswConfig:     &pb.HnswConfigDiff{M: &m, EfConstruct: &ef},
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.vector.Dimensions),
					Distance: distance,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create collection %s: %w: %w", s.collection, err, domain.ErrIndexUnavailable)
	}

	wait := true
	_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           &wait,
		FieldName:      payloadDepartment,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create department index: %w: %w", err, domain.ErrIndexUnavailable)
	}

	s.ensured = true
	return nil
}

// Upsert writes one point, waiting for the write to apply.
func (s *Store) Upsert(ctx context.Context, doc domain.IndexedDocument) error {
	if len(doc.Embedding) != s.vector.Dimensions {
		return fmt.Errorf("document %s: %d components, want %d: %w",
			doc.ID, len(doc.Embedding), s.vector.Dimensions, domain.ErrMalformedArtifact)
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{toPoint(doc)},
	})
	if err != nil {
		return fmt.Errorf("upsert point %s: %w: %w", doc.ID, err, domain.ErrIndexUnavailable)
	}
	return nil
}

// SearchKNN returns the k nearest points, nearest first. A missing collection yields no hits.
func (s *Store) SearchKNN(
	ctx context.Context, vector []float32, department domain.Department, k int,
) ([]domain.Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if !department.IsZero() {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch(payloadDepartment, department.String())}}
	}

	distance, err := toDistance(s.vector.DistanceMetric)
	if err != nil {
		return nil, err
	}

	resp, err := s.points.Search(ctx, req)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w: %w", s.collection, err, domain.ErrIndexUnavailable)
	}

	hits := make([]domain.Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		hits = append(hits, toHit(p, distance))
	}
	return hits, nil
}

// Count returns the exact number of points. A missing collection counts as empty.
func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w: %w", s.collection, err, domain.ErrIndexUnavailable)
	}
	return int(resp.GetResult().GetCount()), nil
}

func toPoint(doc domain.IndexedDocument) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: doc.ID}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: doc.Embedding}},
		},
		Payload: map[string]*pb.Value{
			payloadContent:    stringValue(doc.Text),
			payloadDepartment: stringValue(doc.Department.String()),
			payloadSourceKey:  stringValue(doc.SourceKey),
			payloadIndexedAt:  {Kind: &pb.Value_IntegerValue{IntegerValue: doc.IndexedAt.Unix()}},
		},
	}
}

func toHit(p *pb.ScoredPoint, distance pb.Distance) domain.Hit {
	payload := p.GetPayload()
	return domain.Hit{
		DocumentID: p.GetId().GetUuid(),
		Text:       payload[payloadContent].GetStringValue(),
		Department: domain.Department(payload[payloadDepartment].GetStringValue()),
		Score:      similarity(distance, float64(p.GetScore())),
	}
}

// similarity maps a Qdrant score to [0,1] with higher meaning nearer. Euclid scores
// are distances; Cosine and Dot scores are similarities in [-1,1] for unit vectors.
func similarity(distance pb.Distance, score float64) float64 {
	switch distance {
	case pb.Distance_Euclid:
		return 1 / (1 + max(score, 0))
	case pb.Distance_Dot:
		return min(max((1+score)/2, 0), 1)
	default:
		return min(max(score, 0), 1)
	}
}

func toDistance(metric string) (pb.Distance, error) {
	switch metric {
	case "", "cosine", "cosinesimil":
		return pb.Distance_Cosine, nil
	case "l2":
		return pb.Distance_Euclid, nil
	case "ip", "innerproduct":
		return pb.Distance_Dot, nil
	default:
		return pb.Distance_UnknownDistance, fmt.Errorf("unknown distance metric %q", metric)
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

