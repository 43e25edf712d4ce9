package repository

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/framescope/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1024

	payloadFrameID     = "frame_id"
	payloadVideoID     = "video_id"
	payloadSequence    = "sequence_index"
	payloadTimestamp   = "timestamp"
	payloadSnapshot    = "snapshot"
	payloadSnapshotKey = "snapshot_key"
)

// frameNamespace seeds the UUIDv5 point ids derived from frame ids.
var frameNamespace = uuid.MustParse("6f1c2a52-8a4e-4b7e-9d2f-3f0c5e7a9b11")

// PointID maps a frame id onto the deterministic Qdrant point UUID.
func PointID(frameID string) string {
	return uuid.NewSHA1(frameNamespace, []byte(frameID)).String()
}

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API key, enables TLS
	UseTLS          bool   // TLS without an API key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantIndex is a FrameIndex backed by a Qdrant collection.
type QdrantIndex struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantIndex connects to Qdrant. Local instances use plaintext gRPC;
// an API key or UseTLS switches to TLS.
func NewQdrantIndex(cfg *QdrantConnectionConfig) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		// Qdrant Cloud requires TLS 1.3
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to qdrant: %v", domain.ErrIndexUnavailable, err)
	}

	return &QdrantIndex{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantIndex) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and checks the
// vector size of an existing one.
func (r *QdrantIndex) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create collection: %v", domain.ErrIndexUnavailable, err)
	}

	// video_id filters are keyword matches
	_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collectionName,
		FieldName:      payloadVideoID,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		Wait:           optionalBool(true),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to index video_id: %v", domain.ErrIndexUnavailable, err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if size := params.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

func pointID(frameID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(frameID)}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// framePayload is the payload stored next to each vector.
func framePayload(r *domain.FrameRecord) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		payloadFrameID:   stringValue(r.ID()),
		payloadVideoID:   stringValue(r.VideoID),
		payloadSequence:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.SequenceIndex)}},
		payloadTimestamp: {Kind: &pb.Value_DoubleValue{DoubleValue: r.Timestamp}},
	}
	if len(r.Snapshot) > 0 {
		payload[payloadSnapshot] = stringValue(base64.StdEncoding.EncodeToString(r.Snapshot))
	}
	if r.SnapshotKey != "" {
		payload[payloadSnapshotKey] = stringValue(r.SnapshotKey)
	}
	return payload
}

// Upsert writes all records in one request and waits for them to be indexed.
func (r *QdrantIndex) Upsert(ctx context.Context, records []*domain.FrameRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) != r.vectorDimension {
			return fmt.Errorf("%w: record %s has %d dimensions, collection has %d", domain.ErrInvalidRecord, rec.ID(), len(rec.Embedding), r.vectorDimension)
		}
		points = append(points, &pb.PointStruct{
			Id: pointID(rec.ID()),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Embedding},
				},
			},
			Payload: framePayload(rec),
		})
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert %d points: %v", domain.ErrIndexUnavailable, len(points), err)
	}
	return nil
}

// Query searches the collection. Qdrant reports cosine similarity, which is
// converted to distance. A few extra points are fetched and re-sorted so
// ties at the k-th slot follow frame id order.
func (r *QdrantIndex) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}

	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(overfetchLimit(k)),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{
					Fields: []string{payloadFrameID, payloadVideoID, payloadSequence, payloadTimestamp},
				},
			},
		},
		Filter: buildFilter(filter),
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search: %v", domain.ErrIndexUnavailable, err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		rec := parsePayload(scored.GetPayload())
		matches = append(matches, Match{
			ID:            rec.ID(),
			VideoID:       rec.VideoID,
			SequenceIndex: rec.SequenceIndex,
			Timestamp:     rec.Timestamp,
			Distance:      1 - float64(scored.GetScore()),
		})
	}

	return rankMatches(matches, k), nil
}

func buildFilter(filter *QueryFilter) *pb.Filter {
	videoID := filter.videoID()
	if videoID == "" {
		return nil
	}

	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: payloadVideoID,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: videoID},
						},
					},
				},
			},
		},
	}
}

// parsePayload rebuilds a record without its embedding.
func parsePayload(payload map[string]*pb.Value) *domain.FrameRecord {
	rec := &domain.FrameRecord{}
	if v, ok := payload[payloadVideoID]; ok {
		rec.VideoID = v.GetStringValue()
	}
	if v, ok := payload[payloadSequence]; ok && v.GetIntegerValue() >= 0 {
		rec.SequenceIndex = uint(v.GetIntegerValue())
	}
	if v, ok := payload[payloadTimestamp]; ok {
		rec.Timestamp = v.GetDoubleValue()
	}
	if v, ok := payload[payloadSnapshot]; ok {
		// An undecodable snapshot is left as raw bytes for the preview
		// path to reject.
		if data, err := base64.StdEncoding.DecodeString(v.GetStringValue()); err == nil {
			rec.Snapshot = data
		} else {
			rec.Snapshot = []byte(v.GetStringValue())
		}
	}
	if v, ok := payload[payloadSnapshotKey]; ok {
		rec.SnapshotKey = v.GetStringValue()
	}
	return rec
}

// Get fetches one frame's payload. The embedding is not loaded.
func (r *QdrantIndex) Get(ctx context.Context, id string) (*domain.FrameRecord, error) {
	resp, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: r.collectionName,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get point: %v", domain.ErrIndexUnavailable, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrFrameNotFound, id)
	}

	return parsePayload(resp.GetResult()[0].GetPayload()), nil
}

// Delete deletes points by frame id
func (r *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete %d points: %v", domain.ErrIndexUnavailable, len(ids), err)
	}
	return nil
}

func (r *QdrantIndex) Count(ctx context.Context) (int, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count points: %v", domain.ErrIndexUnavailable, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Reset drops and recreates the collection.
func (r *QdrantIndex) Reset(ctx context.Context) error {
	_, err := r.collectClient.Delete(ctx, &pb.DeleteCollection{
		CollectionName: r.collectionName,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to drop collection: %v", domain.ErrIndexUnavailable, err)
	}
	return r.EnsureCollection(ctx)
}
