package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/tablelock/internal/chunk"
)

// DynamoAPI is the subset of *dynamodb.Client the archive uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ArchiveConfig holds configuration for an Archive.
type ArchiveConfig struct {
	// Table is the DynamoDB table holding snapshots. It needs a string
	// partition key "pk" and a string sort key "sk".
	// Default: "tablelock_snapshots"
	Table string

	// ChunkSize is the number of backup bytes stored per item.
	// Default and max: chunk.MaxSize
	ChunkSize int

	// Logger receives snapshot events.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultArchiveConfig returns sensible defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Table:     "tablelock_snapshots",
		ChunkSize: chunk.MaxSize,
	}
}

func (c *ArchiveConfig) validate() {
	if c.Table == "" {
		c.Table = "tablelock_snapshots"
	}
	if c.ChunkSize < 1 || c.ChunkSize > chunk.MaxSize {
		c.ChunkSize = chunk.MaxSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Snapshot is the manifest of one archived backup.
type Snapshot struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	ID        string `dynamodbav:"snapshot_id"`
	Table     string `dynamodbav:"table_name"`
	Rows      int    `dynamodbav:"rows"`
	Chunks    int    `dynamodbav:"chunks"`
	Size      int64  `dynamodbav:"size"`
	Checksum  string `dynamodbav:"sha256"`
	CreatedAt string `dynamodbav:"created_at"`
}

// Archive stores backup blobs in DynamoDB. A blob is split into chunk items
// under its own partition, then a manifest item is written under the table's
// partition. Readers only look at manifests, so an interrupted upload is
// never visible.
type Archive struct {
	client DynamoAPI
	config ArchiveConfig
}

// NewArchive creates a new Archive.
func NewArchive(client DynamoAPI, config ArchiveConfig) *Archive {
	config.validate()
	return &Archive{client: client, config: config}
}

// Put archives data, a backup of table holding rows rows.
func (a *Archive) Put(ctx context.Context, table string, rows int, data []byte) (Snapshot, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot id: %w", err)
	}
	snap := Snapshot{
		PK:        chunk.TablePK(table),
		SK:        chunk.ManifestSK(id.String()),
		ID:        id.String(),
		Table:     table,
		Rows:      rows,
		Size:      int64(len(data)),
		Checksum:  chunk.Checksum(data),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	pieces := chunk.Split(data, a.config.ChunkSize)
	snap.Chunks = len(pieces)
	for i, p := range pieces {
		_, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(a.config.Table),
			Item: map[string]types.AttributeValue{
				"pk":   &types.AttributeValueMemberS{Value: chunk.SnapshotPK(snap.ID)},
				"sk":   &types.AttributeValueMemberS{Value: chunk.SK(i)},
				"data": &types.AttributeValueMemberB{Value: p},
			},
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		})
		if err != nil {
			return Snapshot{}, mapPutError(fmt.Sprintf("put chunk %d of %s", i, snap.ID), err)
		}
	}

	item, err := attributevalue.MarshalMap(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal manifest: %w", err)
	}
	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.config.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return Snapshot{}, mapPutError("put manifest "+snap.ID, err)
	}

	a.config.Logger.Info("snapshot archived",
		"table", table,
		"snapshot", snap.ID,
		"rows", rows,
		"bytes", snap.Size,
		"chunks", snap.Chunks,
	)
	return snap, nil
}

// Latest returns the most recent snapshot of table.
func (a *Archive) Latest(ctx context.Context, table string) (Snapshot, error) {
	out, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chunk.TablePK(table)},
			":prefix": &types.AttributeValueMemberS{Value: chunk.ManifestSK("")},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return Snapshot{}, err
	}
	if len(out.Items) == 0 {
		return Snapshot{}, fmt.Errorf("%s: %w", table, ErrSnapshotNotFound)
	}
	return unmarshalSnapshot(out.Items[0])
}

// Get returns the snapshot of table with the given ID.
func (a *Archive) Get(ctx context.Context, table, id string) (Snapshot, error) {
	out, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("pk = :pk AND sk = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: chunk.TablePK(table)},
			":sk": &types.AttributeValueMemberS{Value: chunk.ManifestSK(id)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Snapshot{}, err
	}
	if len(out.Items) == 0 {
		return Snapshot{}, fmt.Errorf("%s %s: %w", table, id, ErrSnapshotNotFound)
	}
	return unmarshalSnapshot(out.Items[0])
}

// List returns every snapshot of table, oldest first.
func (a *Archive) List(ctx context.Context, table string) ([]Snapshot, error) {
	var snaps []Snapshot
	paginator := dynamodb.NewQueryPaginator(a.client, &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chunk.TablePK(table)},
			":prefix": &types.AttributeValueMemberS{Value: chunk.ManifestSK("")},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			snap, err := unmarshalSnapshot(item)
			if err != nil {
				return nil, err
			}
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

// Fetch reassembles the data of snap and verifies its checksum.
func (a *Archive) Fetch(ctx context.Context, snap Snapshot) ([]byte, error) {
	data := make([]byte, 0, snap.Size)
	chunks := 0
	paginator := dynamodb.NewQueryPaginator(a.client, &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: chunk.SnapshotPK(snap.ID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if sk, ok := item["sk"].(*types.AttributeValueMemberS); !ok || sk.Value != chunk.SK(chunks) {
				return nil, fmt.Errorf("snapshot %s: chunk %d out of order: %w", snap.ID, chunks, ErrChecksumMismatch)
			}
			if b, ok := item["data"].(*types.AttributeValueMemberB); ok {
				data = append(data, b.Value...)
			}
			chunks++
		}
	}
	if chunks == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", snap.ID, ErrSnapshotNotFound)
	}
	if chunks != snap.Chunks || chunk.Checksum(data) != snap.Checksum {
		return nil, fmt.Errorf("snapshot %s: %d of %d chunks: %w", snap.ID, chunks, snap.Chunks, ErrChecksumMismatch)
	}
	return data, nil
}

func unmarshalSnapshot(item map[string]types.AttributeValue) (Snapshot, error) {
	var snap Snapshot
	if err := attributevalue.UnmarshalMap(item, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return snap, nil
}

// mapPutError maps conditional write failures to ErrSnapshotExists.
func mapPutError(op string, err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%s: %w", op, ErrSnapshotExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// String returns a short human readable description.
func (s Snapshot) String() string {
	return s.Table + "@" + s.ID + " (" + strconv.Itoa(s.Rows) + " rows, " + strconv.FormatInt(s.Size, 10) + " bytes)"
}
