/**
 * Qdrant Vector Database Client for the Document Analysis Worker
 *
 * Stores one vocabulary vector per analyzed document (hashed word
 * frequencies) so documents with similar wording can be looked up.
 * Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/docanalysis-worker/internal/textstats"
)

// VectorIndex is the vector store used by StorageManager
type VectorIndex interface {
	UpsertVector(ctx context.Context, point *VectorPoint) error
	DeleteVector(ctx context.Context, pointID string) error
	SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error)
	GetCollectionInfo(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
	dimensions       int
}

// VectorPoint represents a vector with metadata
type VectorPoint struct {
	ID        string
	Vector    []float32
	Metadata  map[string]interface{}
	Score     float32
	Timestamp int64
}

// PointIDForDocument derives a stable point UUID from a document ID, so
// re-analysis overwrites the previous vector.
func PointIDForDocument(documentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("docanalysis:"+documentID)).String()
}

// NewQdrantClient connects and ensures the collection exists
func NewQdrantClient(ctx context.Context, address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
		dimensions:       textstats.VocabularyDimensions,
	}

	if err := qc.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// UpsertVector stores or updates a vector point
func (q *QdrantClient) UpsertVector(ctx context.Context, point *VectorPoint) error {
	if point == nil {
		return fmt.Errorf("point is required")
	}

	if len(point.Vector) != q.dimensions {
		return fmt.Errorf("invalid vector dimensions: expected %d, got %d", q.dimensions, len(point.Vector))
	}

	if point.ID == "" {
		point.ID = uuid.New().String()
	}

	payload := toPayload(point.Metadata)
	if point.Timestamp > 0 {
		payload["timestamp"] = &qdrant.Value{
			Kind: &qdrant.Value_IntegerValue{IntegerValue: point.Timestamp},
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points: []*qdrant.PointStruct{{
			Id: pointID(point.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: point.Vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

// SearchVectors performs similarity search
func (q *QdrantClient) SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error) {
	if len(queryVector) != q.dimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", q.dimensions, len(queryVector))
	}

	if limit <= 0 {
		limit = 10
	}

	results, err := q.client.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	points := make([]*VectorPoint, 0, len(results.Result))
	for _, result := range results.Result {
		point := &VectorPoint{
			Metadata: fromPayload(result.Payload),
			Score:    result.Score,
		}
		if result.Id != nil {
			point.ID = result.Id.GetUuid()
		}
		points = append(points, point)
	}

	return points, nil
}

// DeleteVector removes a vector by ID
func (q *QdrantClient) DeleteVector(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("point ID is required")
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: id},
	}
}

func toPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return metadata
}
