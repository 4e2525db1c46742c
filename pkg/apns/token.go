package apns

import (
	"encoding/hex"
	"fmt"
)

// TokenSize is the length in bytes of a binary device token.
const TokenSize = 32

// DeviceToken identifies one app installation on one device.
type DeviceToken [TokenSize]byte

// ParseDeviceToken decodes the 64-character hex form of a device token.
// Upper and lower case digits are both accepted.
func ParseDeviceToken(text string) (DeviceToken, error) {
	var token DeviceToken
	if len(text) != TokenSize*2 {
		return token, fmt.Errorf("%w: length %d, want %d hex characters", ErrInvalidToken, len(text), TokenSize*2)
	}
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			return token, fmt.Errorf("%w: non-ascii character at offset %d", ErrInvalidToken, i)
		}
	}
	if _, err := hex.Decode(token[:], []byte(text)); err != nil {
		return token, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return token, nil
}

// String returns the canonical lowercase hex form.
func (t DeviceToken) String() string { return hex.EncodeToString(t[:]) }

// IsZero reports whether the token is all zero bytes.
func (t DeviceToken) IsZero() bool { return t == DeviceToken{} }

// MarshalText implements encoding.TextMarshaler.
func (t DeviceToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DeviceToken) UnmarshalText(text []byte) error {
	parsed, err := ParseDeviceToken(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
