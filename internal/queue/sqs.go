package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/vendors"
)

// SQSConfig holds AWS SQS queue settings
type SQSConfig struct {
	QueueURL        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the SQS endpoint, used for localstack in tests
	Endpoint string
}

// sqsAPI is the subset of the SQS client the queue uses, extracted so
// tests can substitute a fake
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements the queue on AWS SQS, which provides the visibility
// timeout and redelivery semantics natively.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSQueue creates an SQS-backed queue
func NewSQSQueue(ctx context.Context, config SQSConfig) (*SQSQueue, error) {
	if config.QueueURL == "" {
		return nil, errors.ConfigError("sqs queue requires QUEUE_SQS_URL")
	}
	if config.Region == "" {
		return nil, errors.ConfigError("sqs queue requires QUEUE_SQS_REGION")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, config.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.InternalError("failed to load AWS config", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})

	return &SQSQueue{client: client, queueURL: config.QueueURL}, nil
}

// NewSQSQueueWithClient wraps an existing client, used by tests
func NewSQSQueueWithClient(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Enqueue(ctx context.Context, event *vendors.WebhookEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", errors.InternalError("failed to serialize event", err)
	}

	result, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TraceID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.TraceID),
			},
			"Vendor": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Vendor.String()),
			},
		},
	})
	if err != nil {
		return "", errors.InternalError("failed to send message to SQS", err)
	}

	return aws.ToString(result.MessageId), nil
}

func (q *SQSQueue) Dequeue(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]*vendors.QueueMessage, error) {
	if maxMessages <= 0 {
		return nil, errors.ValidationError("maxMessages must be positive")
	}
	// SQS caps a single receive at 10 messages
	if maxMessages > 10 {
		maxMessages = 10
	}

	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		VisibilityTimeout:     int32(visibilityTimeout.Seconds()),
		WaitTimeSeconds:       1,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, errors.InternalError("failed to receive messages from SQS", err)
	}

	messages := make([]*vendors.QueueMessage, 0, len(result.Messages))
	for _, message := range result.Messages {
		var event vendors.WebhookEvent
		if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &event); err != nil {
			return nil, errors.InternalError("corrupt message payload", err)
		}

		receiveCount := 1
		if raw, ok := message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				receiveCount = n
			}
		}

		messages = append(messages, &vendors.QueueMessage{
			MessageID:     aws.ToString(message.MessageId),
			Event:         event,
			ReceiveCount:  receiveCount,
			ReceiptHandle: aws.ToString(message.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Acknowledge(ctx context.Context, msg *vendors.QueueMessage) error {
	if msg.ReceiptHandle == "" {
		return errors.ValidationError("message has no receipt handle")
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return errors.InternalError("failed to delete SQS message", err)
	}
	return nil
}

func (q *SQSQueue) Close() error {
	return nil
}
