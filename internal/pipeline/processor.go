package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-legacy/internal/metrics"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NewProcessor looks up the recipient's devices, dispatches to them and
// unregisters any token the gateway reported as unusable. Returning an
// error nacks the message so it is redelivered.
func NewProcessor(
	dispatcher dispatch.Dispatcher,
	tokenStore dispatch.TokenStore,
	reg *metrics.Registry,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notification.NotificationRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID.String(),
			"pubsub_msg_id", original.ID,
		)

		tokens, err := tokenStore.Fetch(ctx, request.RecipientID)
		if err != nil {
			procLogger.Error("Failed to fetch device tokens", "err", err)
			return err
		}
		if len(tokens) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		receipt, invalidTokens, err := dispatcher.Dispatch(ctx, tokens, request.Content, request.DataPayload)

		// Self-healing runs even when the batch as a whole failed.
		if len(invalidTokens) > 0 {
			procLogger.Info("Cleaning up invalid APNs tokens", "count", len(invalidTokens))
			removed := 0
			for _, t := range invalidTokens {
				if err := tokenStore.Unregister(ctx, request.RecipientID, t); err != nil {
					procLogger.Warn("Failed to delete APNs token", "token", t.String(), "err", err)
					continue
				}
				removed++
			}
			reg.IncTokensRemoved(metrics.RemovedByDispatch, removed)
		}

		if errors.Is(err, apns.ErrPayloadTooLarge) {
			// Redelivery would fail the same way.
			procLogger.Error("Notification cannot be sent; dropping", "err", err)
			return nil
		}
		if err != nil {
			procLogger.Error("APNs Dispatch failed", "err", err)
			return err
		}
		procLogger.Info("APNs Dispatched", "receipt", receipt, "devices", len(tokens))
		return nil
	}
}
