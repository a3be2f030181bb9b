package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoOptions configures a DynamoStore
type DynamoOptions struct {
	Table           string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// DynamoStore keeps records in a DynamoDB table keyed by id
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore builds a client from the default AWS credential chain, or
// from static keys when given
func NewDynamoStore(ctx context.Context, opts DynamoOptions) (*DynamoStore, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table cannot be empty")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID: opts.AccessKeyID, SecretAccessKey: opts.SecretAccessKey,
				Source: "llmlatencybench credentials",
			},
		}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("create aws config: %w", err)
	}

	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), opts.Table), nil
}

// NewDynamoStoreWithClient wraps an existing client
func NewDynamoStoreWithClient(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Put(ctx context.Context, r Record) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                recordToItem(r),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("put record %q: %w", r.ID, ErrDuplicateRecord)
		}
		return fmt.Errorf("put record %q: %w", r.ID, err)
	}
	return nil
}

func (s *DynamoStore) Scan(ctx context.Context, f Filter) ([]Record, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}

	var clauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	if f.RunID != "" {
		clauses = append(clauses, "run_id = :run_id")
		values[":run_id"] = &types.AttributeValueMemberS{Value: f.RunID}
	}
	if f.Streaming != nil {
		clauses = append(clauses, "streaming = :streaming")
		values[":streaming"] = &types.AttributeValueMemberBOOL{Value: *f.Streaming}
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "#ts >= :since")
		names["#ts"] = "timestamp"
		values[":since"] = &types.AttributeValueMemberS{Value: f.Since.Format(TimestampLayout)}
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "#ts < :until")
		names["#ts"] = "timestamp"
		values[":until"] = &types.AttributeValueMemberS{Value: f.Until.Format(TimestampLayout)}
	}
	if len(clauses) > 0 {
		input.FilterExpression = aws.String(strings.Join(clauses, " AND "))
		input.ExpressionAttributeValues = values
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	var out []Record
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan table %s: %w", s.table, err)
		}
		for _, item := range page.Items {
			out = append(out, itemToRecord(item))
		}
	}

	sortRecords(out)
	return out, nil
}

func (s *DynamoStore) Close() error { return nil }

func recordToItem(r Record) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":            &types.AttributeValueMemberS{Value: r.ID},
		"run_id":        &types.AttributeValueMemberS{Value: r.RunID},
		"timestamp":     &types.AttributeValueMemberS{Value: r.Timestamp},
		"provider_name": &types.AttributeValueMemberS{Value: r.ProviderName},
		"model_name":    &types.AttributeValueMemberS{Value: r.ModelName},
		"model_key":     &types.AttributeValueMemberS{Value: r.ModelKey},
		"prompt":        &types.AttributeValueMemberS{Value: r.Prompt},
		"metrics":       &types.AttributeValueMemberS{Value: r.Metrics},
		"streaming":     &types.AttributeValueMemberBOOL{Value: r.Streaming},
	}
}

func itemToRecord(item map[string]types.AttributeValue) Record {
	str := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	r := Record{
		ID:           str("id"),
		RunID:        str("run_id"),
		Timestamp:    str("timestamp"),
		ProviderName: str("provider_name"),
		ModelName:    str("model_name"),
		ModelKey:     str("model_key"),
		Prompt:       str("prompt"),
		Metrics:      str("metrics"),
	}
	if v, ok := item["streaming"].(*types.AttributeValueMemberBOOL); ok {
		r.Streaming = v.Value
	}
	return r
}
