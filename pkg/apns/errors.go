package apns

import (
	"errors"
	"fmt"
)

// Errors returned by the encoder, session and feedback decoder. Failures
// carrying an underlying cause are wrapped so errors.Is matches both the
// sentinel and the cause.
var (
	ErrConnectFailed   = errors.New("apns: connect failed")
	ErrHandshakeFailed = errors.New("apns: tls handshake failed")
	ErrInvalidToken    = errors.New("apns: invalid device token")
	ErrPayloadTooLarge = errors.New("apns: payload too large")
	ErrInvalidFrame    = errors.New("apns: invalid notification field")
	ErrIO              = errors.New("apns: i/o failure")
	ErrSessionState    = errors.New("apns: session is not connected")
)

// GatewayError is returned when the gateway answers a frame with an error
// response. It is distinct from ErrInvalidToken, which only reports a
// malformed token detected locally.
type GatewayError struct {
	Status         Status
	NotificationID uint32
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("apns: gateway rejected notification %d: %s (status %d)", e.NotificationID, e.Status, uint8(e.Status))
}

// IsTokenError reports whether the gateway blamed the device token, meaning
// the token should be dropped rather than the send retried.
func (e *GatewayError) IsTokenError() bool {
	switch e.Status {
	case StatusMissingDeviceToken, StatusInvalidToken, StatusInvalidTokenSize:
		return true
	}
	return false
}

// IsTokenError reports whether err, anywhere in its chain, says the device
// token itself is unusable: either it failed to parse or the gateway
// rejected it.
func IsTokenError(err error) bool {
	if errors.Is(err, ErrInvalidToken) {
		return true
	}
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.IsTokenError()
}
