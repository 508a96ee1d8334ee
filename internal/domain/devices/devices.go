// Package devices registers phones for push notifications. Creating the
// platform endpoint must succeed; subscribing it to the broadcast topic
// and remembering the mapping locally are both best effort.
package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrMissingToken = errors.New("device token is required")
	ErrPushDisabled = errors.New("push notifications are not configured")
)

type Endpoint struct {
	ID              int64
	UserID          int64
	DeviceToken     string
	EndpointARN     string
	SubscriptionARN *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repository remembers which endpoint belongs to which device token.
type Repository interface {
	Upsert(ctx context.Context, endpoint Endpoint) error
}

// Pusher is the notification service.
type Pusher interface {
	CreateEndpoint(ctx context.Context, deviceToken, userData string) (string, error)
	Subscribe(ctx context.Context, endpointARN string) (string, error)
	Broadcast(ctx context.Context, title, body string) (string, error)
}

type Registration struct {
	EndpointARN string
	Subscribed  bool
}

type Service struct {
	repo   Repository
	pusher Pusher
	logger zerolog.Logger
}

func NewService(repo Repository, pusher Pusher, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		pusher: pusher,
		logger: logger.With().Str("component", "devices").Logger(),
	}
}

func (s *Service) Register(ctx context.Context, userID int64, deviceToken string) (*Registration, error) {
	deviceToken = strings.TrimSpace(deviceToken)
	if deviceToken == "" {
		return nil, ErrMissingToken
	}
	if s.pusher == nil {
		return nil, ErrPushDisabled
	}

	endpointARN, err := s.pusher.CreateEndpoint(ctx, deviceToken, strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, fmt.Errorf("create platform endpoint: %w", err)
	}

	reg := &Registration{EndpointARN: endpointARN}
	var subscriptionARN *string
	if arn, err := s.pusher.Subscribe(ctx, endpointARN); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Str("endpoint_arn", endpointARN).Msg("topic subscription failed")
	} else if arn != "" {
		subscriptionARN = &arn
		reg.Subscribed = true
	}

	if s.repo != nil {
		err := s.repo.Upsert(ctx, Endpoint{
			UserID:          userID,
			DeviceToken:     deviceToken,
			EndpointARN:     endpointARN,
			SubscriptionARN: subscriptionARN,
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("user_id", userID).Str("endpoint_arn", endpointARN).Msg("failed to store device endpoint")
		}
	}

	return reg, nil
}

// Broadcast publishes a notification to every subscribed device.
func (s *Service) Broadcast(ctx context.Context, title, body string) (string, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return "", errors.New("title and body are required")
	}
	if s.pusher == nil {
		return "", ErrPushDisabled
	}

	messageID, err := s.pusher.Broadcast(ctx, title, body)
	if err != nil {
		return "", fmt.Errorf("publish broadcast: %w", err)
	}

	s.logger.Info().Str("message_id", messageID).Msg("broadcast published")
	return messageID, nil
}
