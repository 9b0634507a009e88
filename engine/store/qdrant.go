package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// scrollPageSize bounds one BulkRead page.
const scrollPageSize = 256

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant is the VectorStore over a Qdrant collection. Point IDs are
// UUIDs derived deterministically from record IDs, so upserting the
// same record twice lands on the same point.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// NewQdrant dials the Qdrant gRPC address and wraps collection.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("store: dial qdrant %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewQdrantWithClients wires pre-built clients. Tests inject mocks
// here.
func NewQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string) *Qdrant {
	return &Qdrant{points: points, collections: collections, collection: collection}
}

// Close tears down the gRPC connection, if Open dialed one.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// pointID maps a record ID onto a stable UUID point ID.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// EnsureCollection creates the collection with cosine distance if it
// doesn't exist yet.
func (q *Qdrant) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("store: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: create collection %s: %w", q.collection, err)
	}
	return nil
}

// DropCollection deletes the collection. Backfills use it for clean
// rebuilds.
func (q *Qdrant) DropCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("store: drop collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert implements VectorStore.
func (q *Qdrant) Upsert(ctx context.Context, rec Record) error {
	payload := map[string]*pb.Value{
		"id": {Kind: &pb.Value_StringValue{StringValue: rec.ID}},
	}
	for k, v := range rec.Meta {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(rec.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Delete implements VectorStore. It removes by the record-id payload
// filter rather than the point UUID, so stale points from older ID
// derivations go too.
func (q *Qdrant) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("id", id)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// Get implements VectorStore.
func (q *Qdrant) Get(ctx context.Context, id string) (*Record, bool, error) {
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collection,
		Ids: []*pb.PointId{
			{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}},
		},
		WithPayload: enablePayload(),
		WithVectors: enableVectors(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, false, nil
	}
	rec := recordFromPoint(resp.GetResult()[0])
	return &rec, true, nil
}

// BulkRead implements VectorStore. It scrolls the whole collection
// page by page and returns the records sorted by record ID.
func (q *Qdrant) BulkRead(ctx context.Context) ([]Record, error) {
	var (
		out    []Record
		offset *pb.PointId
		limit  = uint32(scrollPageSize)
	)
	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    enablePayload(),
			WithVectors:    enableVectors(),
		})
		if err != nil {
			return nil, fmt.Errorf("store: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, recordFromPoint(p))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func recordFromPoint(p *pb.RetrievedPoint) Record {
	rec := Record{
		Vector: p.GetVectors().GetVector().GetData(),
		Meta:   make(map[string]string),
	}
	for k, val := range p.GetPayload() {
		if k == "id" {
			rec.ID = val.GetStringValue()
			continue
		}
		rec.Meta[k] = val.GetStringValue()
	}
	return rec
}

func enablePayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
	}
}

func enableVectors() *pb.WithVectorsSelector {
	return &pb.WithVectorsSelector{
		SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
	}
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
