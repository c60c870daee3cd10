// Package snsbridge forwards propagation events to an AWS SNS topic so
// downstream consumers outside this process (mobile push, analytics)
// receive marketplace changes.
package snsbridge

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/propagation"
)

// Publisher publishes events to one SNS topic. The engine topic travels
// as a message attribute so SNS subscriptions can filter on it. It
// implements propagation.Transport.
type Publisher struct {
	client   *sns.Client
	topicARN string
	healthy  atomic.Bool
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher. With an empty accessKey the
// default AWS credential chain is used; otherwise the given static key
// pair.
func NewPublisher(ctx context.Context, region, topicARN, accessKey, secretKey string, logger *zap.Logger) (*Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
		logger:   logger,
	}
	p.healthy.Store(true)
	return p, nil
}

// Publish sends one event to the SNS topic.
func (p *Publisher) Publish(ctx context.Context, ev propagation.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Topic),
			},
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Kind),
			},
		},
	})
	if err != nil {
		p.healthy.Store(false)
		return err
	}

	p.healthy.Store(true)
	return nil
}

// Healthy reports whether the last publish succeeded.
func (p *Publisher) Healthy() bool { return p.healthy.Load() }

// Close implements propagation.Transport; the SNS client holds no
// connection state worth tearing down.
func (p *Publisher) Close() error { return nil }
