// Package dispatch defines the contracts between the notification pipeline,
// the APNs delivery path and the device token store.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// ErrTokenNotFound is returned by TokenStore.Owner for a token nobody has
// registered.
var ErrTokenNotFound = errors.New("device token not registered")

// Dispatcher sends one notification to a batch of device tokens.
type Dispatcher interface {
	// Dispatch returns a human-readable receipt and the tokens the gateway
	// reported as unusable. A non-nil error means the batch should be
	// retried.
	Dispatch(ctx context.Context, tokens []apns.DeviceToken, content notification.NotificationContent, data map[string]string) (string, []apns.DeviceToken, error)
}

// TokenOwner records who registered a token and when.
type TokenOwner struct {
	User      urn.URN
	UpdatedAt time.Time
}

// TokenStore remembers which devices belong to which user. A token has at
// most one owner; registering it again moves it to the new user.
type TokenStore interface {
	Register(ctx context.Context, user urn.URN, token apns.DeviceToken) error
	// Unregister removes token if user owns it. Removing an unknown token is
	// not an error.
	Unregister(ctx context.Context, user urn.URN, token apns.DeviceToken) error
	Fetch(ctx context.Context, user urn.URN) ([]apns.DeviceToken, error)
	// Owner returns ErrTokenNotFound when the token is not registered.
	Owner(ctx context.Context, token apns.DeviceToken) (TokenOwner, error)
}
