package apns

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// CommandNotification is the command byte of a notification frame.
const CommandNotification = 2

// Item identifiers, in the order they are written.
const (
	ItemDeviceToken    = 1
	ItemPayload        = 2
	ItemNotificationID = 3
	ItemExpiration     = 4
	ItemPriority       = 5
)

// MaxPayloadSize is the largest payload the gateway accepts, in bytes.
const MaxPayloadSize = 2048

// DefaultExpiry is added to the current time when a notification carries no
// expiration.
const DefaultExpiry = 24 * time.Hour

const (
	frameHeaderSize = 1 + 4
	itemHeaderSize  = 1 + 2
)

// Priority tells the gateway how urgently to deliver a notification.
type Priority uint8

const (
	// PriorityLow delivers at a time that conserves power on the device.
	PriorityLow Priority = 5
	// PriorityHigh delivers immediately.
	PriorityHigh Priority = 10
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Notification is one push addressed to one device. Payload is opaque to
// this package; only its size is checked. A zero Priority or Expiration
// means the default (PriorityHigh, now + DefaultExpiry).
type Notification struct {
	Token      DeviceToken
	Payload    []byte
	Priority   Priority
	Expiration time.Time
}

// Frame is an encoded notification together with the identifier the
// gateway will echo if it rejects it.
type Frame struct {
	ID    uint32
	Bytes []byte
}

// EncodeFrame builds the wire form of a notification. It does no I/O and
// returns the same bytes for the same arguments. The expiration must fit in
// an unsigned 32-bit Unix time and the priority must be low or high;
// anything else fails with ErrInvalidFrame.
func EncodeFrame(token DeviceToken, payload []byte, id uint32, expiration time.Time, priority Priority) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	if secs := expiration.Unix(); secs < 0 || secs > math.MaxUint32 {
		return nil, fmt.Errorf("%w: expiration %s outside 1970..2106", ErrInvalidFrame, expiration.UTC().Format(time.RFC3339))
	}
	if priority != PriorityLow && priority != PriorityHigh {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrame, priority)
	}

	itemsLen := itemHeaderSize*5 + TokenSize + len(payload) + 4 + 4 + 1
	var buf bytes.Buffer
	buf.Grow(frameHeaderSize + itemsLen)

	buf.WriteByte(CommandNotification)
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(itemsLen)))

	writeItem(&buf, ItemDeviceToken, token[:])
	writeItem(&buf, ItemPayload, payload)
	writeItem(&buf, ItemNotificationID, binary.BigEndian.AppendUint32(nil, id))
	writeItem(&buf, ItemExpiration, binary.BigEndian.AppendUint32(nil, uint32(expiration.Unix())))
	writeItem(&buf, ItemPriority, []byte{byte(priority)})

	return buf.Bytes(), nil
}

func writeItem(buf *bytes.Buffer, id byte, value []byte) {
	buf.WriteByte(id)
	buf.Write(binary.BigEndian.AppendUint16(nil, uint16(len(value))))
	buf.Write(value)
}

// Encoder fills in the notification id and defaults before calling
// EncodeFrame. Rand and Now can be replaced to make output reproducible.
type Encoder struct {
	// Rand supplies notification ids. Defaults to crypto/rand.Reader.
	Rand io.Reader
	// Now is the clock used for the default expiration. Defaults to time.Now.
	Now func() time.Time
}

// NewEncoder returns an Encoder using crypto/rand and the wall clock.
func NewEncoder() *Encoder {
	return &Encoder{Rand: rand.Reader, Now: time.Now}
}

// Encode assigns a random notification id and encodes n.
func (e *Encoder) Encode(n Notification) (Frame, error) {
	if len(n.Payload) > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(n.Payload), MaxPayloadSize)
	}
	id, err := e.nextID()
	if err != nil {
		return Frame{}, err
	}

	priority := n.Priority
	if priority == 0 {
		priority = PriorityHigh
	}
	expiration := n.Expiration
	if expiration.IsZero() {
		expiration = e.now().Add(DefaultExpiry)
	}

	b, err := EncodeFrame(n.Token, n.Payload, id, expiration, priority)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: id, Bytes: b}, nil
}

func (e *Encoder) nextID() (uint32, error) {
	r := e.Rand
	if r == nil {
		r = rand.Reader
	}
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate notification id: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (e *Encoder) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
