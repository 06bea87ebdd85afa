package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// DynamoDBAPI is the subset of the DynamoDB client used by MediaRepository.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// MediaRepository stores upload results in DynamoDB.
type MediaRepository struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
	log       *slog.Logger
}

// NewMediaRepository creates a MediaRepository over an existing client.
func NewMediaRepository(client DynamoDBAPI, tableName string) (*MediaRepository, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &MediaRepository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
		log:       slog.Default(),
	}, nil
}

func mediaKey(mediaID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("MEDIA#%s", mediaID)},
		"sk": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// SaveResult persists one upload result. Successful videos with an HLS master
// also become the LATEST video pointer. A failed pointer write is logged and
// does not fail the save, since the record itself is already stored.
func (r *MediaRepository) SaveResult(ctx context.Context, mediaID, folder string, result models.UploadResult) (*models.MediaRecord, error) {
	now := r.now().UTC().Format(time.RFC3339)

	status := models.StatusReady
	if result.Error {
		status = models.StatusFailed
	}

	record := &models.MediaRecord{
		PK:           fmt.Sprintf("MEDIA#%s", mediaID),
		SK:           "METADATA",
		GSI1PK:       fmt.Sprintf("FOLDER#%s", folder),
		GSI1SK:       fmt.Sprintf("%s#%s", now, mediaID),
		MediaID:      mediaID,
		Folder:       folder,
		IsVideo:      strings.HasPrefix(result.Type, "video/"),
		Status:       status,
		CreatedAt:    now,
		UploadResult: result,
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, fmt.Errorf("media already exists: %s", mediaID)
		}
		return nil, fmt.Errorf("failed to save media: %w", err)
	}

	if record.IsVideo && status == models.StatusReady && result.HLSURL != "" {
		if err := r.updateLatest(ctx, mediaID, result.HLSURL, now); err != nil {
			logger.Error(ctx, r.log, "Latest video pointer not updated",
				"mediaId", mediaID,
				"error", err,
			)
		}
	}

	return record, nil
}

func (r *MediaRepository) updateLatest(ctx context.Context, mediaID, hlsURL, now string) error {
	latestItem := map[string]types.AttributeValue{
		"pk":           &types.AttributeValueMemberS{Value: "LATEST"},
		"sk":           &types.AttributeValueMemberS{Value: "VIDEO"},
		"media_id":     &types.AttributeValueMemberS{Value: mediaID},
		"hls_url":      &types.AttributeValueMemberS{Value: hlsURL},
		"processed_at": &types.AttributeValueMemberS{Value: now},
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      latestItem,
	})
	if err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return nil
}

// GetMedia retrieves a record by ID.
func (r *MediaRepository) GetMedia(ctx context.Context, mediaID string) (*models.MediaRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       mediaKey(mediaID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrMediaNotFound
	}

	var record models.MediaRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media: %w", err)
	}

	return &record, nil
}

// GetLatestVideo retrieves the most recently transcoded video (O(1) operation).
func (r *MediaRepository) GetLatestVideo(ctx context.Context) (*models.MediaRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "LATEST"},
			"sk": &types.AttributeValueMemberS{Value: "VIDEO"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest video pointer: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrMediaNotFound
	}

	idAttr, ok := result.Item["media_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("invalid media_id type")
	}

	return r.GetMedia(ctx, idAttr.Value)
}

// ListByFolder retrieves records of one folder, newest first.
func (r *MediaRepository) ListByFolder(ctx context.Context, folder string, limit int32, startKey map[string]types.AttributeValue) ([]models.MediaRecord, map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("FOLDER#%s", folder)},
		},
		ScanIndexForward: aws.Bool(false), // Descending order (newest first)
		Limit:            aws.Int32(limit),
	}

	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list media: %w", err)
	}

	var records []models.MediaRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal media: %w", err)
	}

	return records, result.LastEvaluatedKey, nil
}
