// Package push registers iOS devices with SNS and broadcasts to the
// SafetyNow topic.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/Togather-Foundation/safetynow/internal/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

var ErrNoTopic = errors.New("no broadcast topic configured")

// API is the subset of the SNS client used here.
type API interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Client struct {
	api            API
	applicationARN string
	topicARN       string
	timeout        time.Duration
	logger         zerolog.Logger
}

func New(awsCfg aws.Config, cfg config.PushConfig, timeout time.Duration, logger zerolog.Logger) *Client {
	return NewWithAPI(sns.NewFromConfig(awsCfg), cfg, timeout, logger)
}

func NewWithAPI(api API, cfg config.PushConfig, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		api:            api,
		applicationARN: cfg.PlatformApplicationARN,
		topicARN:       cfg.TopicARN,
		timeout:        timeout,
		logger:         logger.With().Str("component", "push").Logger(),
	}
}

// CreateEndpoint registers a device token with the platform application.
// SNS returns the existing endpoint when the token is already known with
// the same attributes.
func (c *Client) CreateEndpoint(ctx context.Context, deviceToken, userData string) (arn string, err error) {
	ctx, done := c.observe(ctx, "create_platform_endpoint", &err)
	defer done()

	out, err := c.api.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(c.applicationARN),
		Token:                  aws.String(deviceToken),
		CustomUserData:         aws.String(userData),
	})
	if err != nil {
		return "", fmt.Errorf("create platform endpoint: %w", err)
	}
	return aws.ToString(out.EndpointArn), nil
}

func (c *Client) Subscribe(ctx context.Context, endpointARN string) (arn string, err error) {
	if c.topicARN == "" {
		return "", ErrNoTopic
	}
	ctx, done := c.observe(ctx, "subscribe", &err)
	defer done()

	out, err := c.api.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(c.topicARN),
		Protocol: aws.String("application"),
		Endpoint: aws.String(endpointARN),
	})
	if err != nil {
		return "", fmt.Errorf("subscribe endpoint: %w", err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apsPayload struct {
	Aps struct {
		Alert apsAlert `json:"alert"`
		Sound string   `json:"sound"`
		Badge int      `json:"badge"`
	} `json:"aps"`
}

// BroadcastMessage builds the per-platform JSON message SNS expects when
// MessageStructure is "json".
func BroadcastMessage(title, body string) (string, error) {
	var payload apsPayload
	payload.Aps.Alert = apsAlert{Title: title, Body: body}
	payload.Aps.Sound = "default"
	payload.Aps.Badge = 1

	apns, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	message, err := json.Marshal(map[string]string{
		"default":      body,
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(message), nil
}

func (c *Client) Broadcast(ctx context.Context, title, body string) (messageID string, err error) {
	if c.topicARN == "" {
		return "", ErrNoTopic
	}
	message, err := BroadcastMessage(title, body)
	if err != nil {
		return "", fmt.Errorf("encode broadcast: %w", err)
	}

	ctx, done := c.observe(ctx, "publish", &err)
	defer done()

	out, err := c.api.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(c.topicARN),
		MessageStructure: aws.String("json"),
		Message:          aws.String(message),
	})
	if err != nil {
		return "", fmt.Errorf("publish to topic: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// observe bounds the call and records it once done runs.
func (c *Client) observe(ctx context.Context, operation string, errp *error) (context.Context, func()) {
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "sns", operation)
	cancel := func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {
		cancel()
		metrics.ObserveIntegration("sns", operation, start, *errp)
		telemetry.EndSpan(span, *errp)
	}
}
