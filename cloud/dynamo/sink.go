// Package dynamo publishes cloud change notifications to a DynamoDB table.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/shepsii/dbproxies/cloud"
)

// ErrNoTable indicates a sink configured without a table name.
var ErrNoTable = errors.New("dynamodb table name is required")

// PutItemAPI is the part of the DynamoDB client used by Sink.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
}

// Settings describes how to reach DynamoDB. Empty credentials fall back to
// the default AWS credential chain.
type Settings struct {
	Region    string
	Table     string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient initializes a DynamoDB client from settings.
func NewClient(ctx context.Context, settings Settings) (*sdk.Client, error) {
	var opts []func(*config.LoadOptions) error
	if settings.Region != "" {
		opts = append(opts, config.WithRegion(settings.Region))
	}
	if settings.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
	}), nil
}

// item is the stored form of a change: partitioned by record, sorted by
// queue sequence.
type item struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	cloud.Change
}

// Sink is a cloud.Publisher writing one item per change.
type Sink struct {
	client PutItemAPI
	table  string
	logger *slog.Logger
}

var _ cloud.Publisher = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSink creates a sink writing to table through client.
func NewSink(client PutItemAPI, table string, opts ...Option) (*Sink, error) {
	if table == "" {
		return nil, ErrNoTable
	}
	s := &Sink{
		client: client,
		table:  table,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Publish implements cloud.Publisher. Changes are written in order; the
// first failure stops the batch.
func (s *Sink) Publish(ctx context.Context, changes ...cloud.Change) error {
	for _, c := range changes {
		av, err := attributevalue.MarshalMap(item{
			PK:     fmt.Sprintf("%s#%v", c.Model, c.RecordID),
			SK:     fmt.Sprintf("%020d", c.Seq),
			Change: c,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal change %d: %w", c.Seq, err)
		}
		_, err = s.client.PutItem(ctx, &sdk.PutItemInput{
			TableName: aws.String(s.table),
			Item:      av,
		})
		if err != nil {
			s.logger.Error("publish failed", "table", s.table, "seq", c.Seq, "err", err)
			return fmt.Errorf("PutItem failed: %w", err)
		}
	}
	s.logger.Debug("published changes", "table", s.table, "count", len(changes))
	return nil
}
