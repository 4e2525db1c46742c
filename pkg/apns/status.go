package apns

import (
	"encoding/binary"
	"fmt"
)

// CommandErrorResponse is the command byte of a gateway error response.
const CommandErrorResponse = 8

// ErrorResponseSize is the wire size of an error response.
const ErrorResponseSize = 6

// Status is the status code carried by a gateway error response.
type Status uint8

const (
	StatusNoErrors           Status = 0
	StatusProcessingError    Status = 1
	StatusMissingDeviceToken Status = 2
	StatusMissingPayload     Status = 3
	StatusInvalidPayloadSize Status = 4
	StatusInvalidToken       Status = 5
	StatusInvalidTopic       Status = 6
	StatusInvalidPayload     Status = 7
	StatusInvalidTokenSize   Status = 8
	StatusInvalidExpiration  Status = 9
	StatusInvalidPriority    Status = 10
	StatusNone               Status = 128
	StatusUnknown            Status = 255
)

var statusText = map[Status]string{
	StatusNoErrors:           "no errors",
	StatusProcessingError:    "processing error",
	StatusMissingDeviceToken: "missing device token",
	StatusMissingPayload:     "missing payload",
	StatusInvalidPayloadSize: "invalid payload size",
	StatusInvalidToken:       "invalid token",
	StatusInvalidTopic:       "invalid topic",
	StatusInvalidPayload:     "invalid payload",
	StatusInvalidTokenSize:   "invalid token size",
	StatusInvalidExpiration:  "invalid expiration",
	StatusInvalidPriority:    "invalid priority",
	StatusNone:               "none",
	StatusUnknown:            "unknown",
}

// Known reports whether the status is one of the documented codes.
func (s Status) Known() bool {
	_, ok := statusText[s]
	return ok
}

// Class folds undocumented codes into StatusUnknown.
func (s Status) Class() Status {
	if s.Known() {
		return s
	}
	return StatusUnknown
}

func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return "unknown"
}

// ErrorResponse is the 6-byte reply the gateway sends before closing a
// connection on which it rejected a frame.
type ErrorResponse struct {
	Command        uint8
	Status         Status
	NotificationID uint32
}

// DecodeErrorResponse parses an error response. Unknown status bytes are
// kept as-is; see Status.Class.
func DecodeErrorResponse(b []byte) (ErrorResponse, error) {
	if len(b) != ErrorResponseSize {
		return ErrorResponse{}, fmt.Errorf("%w: error response is %d bytes, want %d", ErrIO, len(b), ErrorResponseSize)
	}
	if b[0] != CommandErrorResponse {
		return ErrorResponse{}, fmt.Errorf("%w: unexpected reply command %d", ErrIO, b[0])
	}
	return ErrorResponse{
		Command:        b[0],
		Status:         Status(b[1]),
		NotificationID: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// Err converts the response into the error a sender should see. A
// StatusNoErrors reply yields nil; undocumented codes surface as
// StatusUnknown.
func (r ErrorResponse) Err() error {
	if r.Status == StatusNoErrors {
		return nil
	}
	return &GatewayError{Status: r.Status.Class(), NotificationID: r.NotificationID}
}
