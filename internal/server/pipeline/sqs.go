package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sc "github.com/vibeapp/mediavault/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newSQSClientFromConfig = func(cfg aws.Config, optFns ...func(*sqs.Options)) *sqs.Client {
		return sqs.NewFromConfig(cfg, optFns...)
	}

	sendMessage = func(c *sqs.Client, ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
		return c.SendMessage(ctx, in, optFns...)
	}
)

// SQSEmitter publishes handoff events to an SQS queue consumed by the
// processing pipeline workers.
type SQSEmitter struct {
	config *sc.Config
}

func NewSQSEmitter(config *sc.Config) *SQSEmitter {
	return &SQSEmitter{config: config}
}

func (e *SQSEmitter) getClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(e.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			e.config.S3RootUser,
			e.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}
	return newSQSClientFromConfig(cfg), nil
}

func (e *SQSEmitter) EmitUploaded(ctx context.Context, event *UploadedEvent) error {
	client, err := e.getClient(ctx)
	if err != nil {
		return fmt.Errorf("sqs client error: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = sendMessage(client, ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.config.SQSQueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send error: %w", err)
	}
	return nil
}

// NoopEmitter discards events. Used when no queue is configured and in tests.
type NoopEmitter struct{}

func (e *NoopEmitter) EmitUploaded(ctx context.Context, event *UploadedEvent) error {
	return nil
}
