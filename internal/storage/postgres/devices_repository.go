package postgres

import (
	"context"
	"fmt"

	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
)

type DeviceRepository struct {
	conn
}

// Upsert keys on the device token. A token that moves to another account
// follows it; a missing subscription does not erase a known one.
func (r *DeviceRepository) Upsert(ctx context.Context, endpoint devices.Endpoint) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO device_endpoints (user_id, device_token, endpoint_arn, subscription_arn)
VALUES ($1, $2, $3, $4)
ON CONFLICT (device_token) DO UPDATE
   SET user_id          = EXCLUDED.user_id,
       endpoint_arn     = EXCLUDED.endpoint_arn,
       subscription_arn = COALESCE(EXCLUDED.subscription_arn, device_endpoints.subscription_arn),
       updated_at       = now()`,
		endpoint.UserID, endpoint.DeviceToken, endpoint.EndpointARN, endpoint.SubscriptionARN)
	if err != nil {
		return fmt.Errorf("upsert device endpoint: %w", err)
	}
	return nil
}
