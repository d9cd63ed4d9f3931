// Package semantic provides the vector indexes the retriever searches: a
// Qdrant-backed VectorStore and an in-process MemoryIndex.
package semantic

import (
	"context"
	"fmt"
	"math"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	distance    pb.Distance
}

// Option configures a VectorStore.
type Option func(*VectorStore)

// WithDistance sets the collection metric. Cosine is the default.
func WithDistance(d pb.Distance) Option {
	return func(v *VectorStore) { v.distance = d }
}

// ParseDistance maps a metric name ("cosine", "dot", "euclid", "manhattan")
// to the Qdrant enum. Unknown names are cosine.
func ParseDistance(name string) pb.Distance {
	switch name {
	case "dot":
		return pb.Distance_Dot
	case "euclid", "l2":
		return pb.Distance_Euclid
	case "manhattan":
		return pb.Distance_Manhattan
	default:
		return pb.Distance_Cosine
	}
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, opts ...Option) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	v := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, opts...)
	v.conn = conn
	return v, nil
}

// NewWithClients builds a VectorStore over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, opts ...Option) *VectorStore {
	v := &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		distance:    pb.Distance_Cosine,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: v.distance},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores chunk embeddings. Records without an ID get PointID(Ref).
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		id := r.ID
		if id == "" {
			id = PointID(r.Ref)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: payloadOf(r),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

func payloadOf(r VectorRecord) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(r.Payload)+4)
	for k, val := range r.Payload {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	payload[keyChunkID] = str(r.Ref.ID)
	payload[keySourceFile] = str(r.Ref.SourceFile)
	payload[keyCategory] = str(r.Ref.Category)
	if r.Text != "" {
		payload[keyText] = str(r.Text)
	}
	return payload
}

// DeleteBySource removes all points of one source file.
func (v *VectorStore) DeleteBySource(ctx context.Context, sourceFile string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(keySourceFile, sourceFile)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by source %s: %w", sourceFile, err)
	}
	return nil
}

// Search returns at most k neighbours of vector, nearest first.
func (v *VectorStore) Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]Neighbor, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		meta := make(map[string]string, len(r.GetPayload()))
		for key, val := range r.GetPayload() {
			if key == keyText {
				continue
			}
			meta[key] = valueString(val)
		}
		out[i] = Neighbor{
			ChunkRef: refFromMeta(meta),
			Distance: v.toDistance(r.GetScore()),
			Meta:     meta,
		}
	}
	return out, nil
}

// toDistance turns a Qdrant score into a lower-is-closer distance. Dot
// scores on unnormalized vectors can exceed 1, so similarity distances are
// floored at zero.
func (v *VectorStore) toDistance(score float32) float64 {
	switch v.distance {
	case pb.Distance_Euclid, pb.Distance_Manhattan:
		return float64(score)
	default:
		return math.Max(0, 1-float64(score))
	}
}

func valueString(val *pb.Value) string {
	switch k := val.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
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
