// Package pipeline turns Pub/Sub messages into APNs deliveries.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NotificationRequestTransformer decodes a message payload into a
// notification.NotificationRequest. The type's own UnmarshalJSON validates
// the recipient URN. Undecodable messages are skipped, which leaves them to
// the subscription's dead-letter policy.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.NotificationRequest, bool, error) {
	var nativeReq notification.NotificationRequest
	if err := json.Unmarshal(msg.Payload, &nativeReq); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}
	return &nativeReq, false, nil
}
