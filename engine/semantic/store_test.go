package semantic

import (
	"context"
	"errors"
	"math"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	lastUpsert *pb.UpsertPoints
	lastSearch *pb.SearchPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.lastUpsert = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.lastSearch = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "test"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureCollection_CreateError(t *testing.T) {
	cols := &mockCollections{
		listResp:  &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createErr: errors.New("create fail"),
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteCollection_Success(t *testing.T) {
	cols := &mockCollections{deleteResp: &pb.CollectionOperationResponse{Result: true}}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.DeleteCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteCollection_Error(t *testing.T) {
	cols := &mockCollections{deleteErr: errors.New("fail")}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.DeleteCollection(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_Success(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	records := []VectorRecord{
		{
			Embedding: []float32{1, 0, 0, 0},
			Ref:       domain.ChunkRef{ID: "4", SourceFile: "aoda.pdf", Category: "policy"},
			Text:      "Accommodation requests go to Accessible Learning Services.",
			Payload: map[string]any{
				"page":   42,
				"page64": int64(99),
				"weight": 3.14,
				"active": true,
				"other":  []int{1, 2},
			},
		},
	}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.lastUpsert == nil || len(pts.lastUpsert.Points) != 1 {
		t.Fatal("expected one point sent")
	}
	pt := pts.lastUpsert.Points[0]
	if pt.GetId().GetUuid() != PointID(records[0].Ref) {
		t.Errorf("expected derived point id, got %s", pt.GetId().GetUuid())
	}
	if pt.Payload["source_file"].GetStringValue() != "aoda.pdf" {
		t.Errorf("source_file not stored: %v", pt.Payload)
	}
	if pt.Payload["page"].GetIntegerValue() != 42 || !pt.Payload["active"].GetBoolValue() {
		t.Errorf("extra payload not stored: %v", pt.Payload)
	}
	if pt.Payload["text"].GetStringValue() == "" {
		t.Error("text not stored")
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	records := []VectorRecord{{ID: "id1", Embedding: []float32{1, 0}}}
	if err := vs.Upsert(context.Background(), records); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteBySource_Success(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteBySource(context.Background(), "aoda.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteBySource_Error(t *testing.T) {
	pts := &mockPoints{deleteErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteBySource(context.Background(), "aoda.pdf"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_Success(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Score: 0.75,
					Payload: map[string]*pb.Value{
						"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: "4"}},
						"source_file": {Kind: &pb.Value_StringValue{StringValue: "aoda.pdf"}},
						"category":    {Kind: &pb.Value_StringValue{StringValue: "policy"}},
						"text":        {Kind: &pb.Value_StringValue{StringValue: "ignored"}},
						"page":        {Kind: &pb.Value_IntegerValue{IntegerValue: 7}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1, got %d", len(results))
	}
	got := results[0]
	if got.ID != "4" || got.SourceFile != "aoda.pdf" || got.Category != "policy" {
		t.Errorf("wrong ref: %+v", got.ChunkRef)
	}
	if math.Abs(got.Distance-0.25) > 1e-6 {
		t.Errorf("expected cosine distance 0.25, got %f", got.Distance)
	}
	if got.Meta["page"] != "7" {
		t.Errorf("wrong meta: %v", got.Meta)
	}
	if _, ok := got.Meta["text"]; ok {
		t.Error("text should not be copied into meta")
	}
	if pts.lastSearch.GetLimit() != 5 {
		t.Errorf("expected limit 5, got %d", pts.lastSearch.GetLimit())
	}
}

func TestSearch_MissingMetadataDefaults(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{Score: 1}}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Search(context.Background(), []float32{1}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].ID != "unknown" || results[0].SourceFile != "unknown" || results[0].Category != "unknown" {
		t.Errorf("expected unknown defaults, got %+v", results[0].ChunkRef)
	}
}

func TestSearch_EuclidDistancePassesThrough(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{Score: 2.5}}}}
	vs := NewWithClients(pts, &mockCollections{}, "test", WithDistance(pb.Distance_Euclid))
	results, err := vs.Search(context.Background(), []float32{1}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Distance != 2.5 {
		t.Errorf("expected 2.5, got %f", results[0].Distance)
	}
}

func TestSearch_DotDistanceNeverNegative(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Score: 3.2},
		{Score: 0.75},
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "test", WithDistance(pb.Distance_Dot))
	results, err := vs.Search(context.Background(), []float32{1}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Distance != 0 {
		t.Errorf("expected 0 for score above 1, got %f", results[0].Distance)
	}
	if results[1].Distance != 0.25 {
		t.Errorf("expected 0.25, got %f", results[1].Distance)
	}
}

func TestSearch_ZeroK(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	results, err := vs.Search(context.Background(), []float32{1}, 0)
	if err != nil || results != nil {
		t.Fatalf("expected nil, nil; got %v, %v", results, err)
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	_, err := vs.Search(context.Background(), []float32{1}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_EmptyResults(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	results, err := vs.Search(context.Background(), []float32{1}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0, got %d", len(results))
	}
}

func TestParseDistance(t *testing.T) {
	cases := map[string]pb.Distance{
		"cosine": pb.Distance_Cosine, "dot": pb.Distance_Dot,
		"euclid": pb.Distance_Euclid, "l2": pb.Distance_Euclid,
		"manhattan": pb.Distance_Manhattan, "": pb.Distance_Cosine,
	}
	for in, want := range cases {
		if got := ParseDistance(in); got != want {
			t.Errorf("ParseDistance(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClose_NilConn(t *testing.T) {
	vs := NewWithClients(nil, nil, "test")
	if err := vs.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_Success(t *testing.T) {
	vs, err := New("localhost:0", "test-collection")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs.Close()
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("key", "value")
	fc := cond.GetField()
	if fc.Key != "key" {
		t.Fatalf("expected key, got %s", fc.Key)
	}
	if fc.Match.GetKeyword() != "value" {
		t.Fatalf("expected value, got %s", fc.Match.GetKeyword())
	}
}

func TestEnsureCollection_OtherCollectionExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "other"}},
		},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
