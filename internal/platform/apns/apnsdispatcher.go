// Package apns adapts the binary gateway client to the dispatch.Dispatcher
// contract used by the notification pipeline.
package apns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2/payload"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-apns-legacy/internal/metrics"
	legacy "github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// DefaultMaxConcurrentSends bounds parallel gateway connections per batch.
const DefaultMaxConcurrentSends = 8

// Pusher is the subset of *legacy.Client the dispatcher uses.
type Pusher interface {
	Deliver(ctx context.Context, token string, payload []byte, opts ...legacy.DeliverOption) (uint32, error)
}

// Config tunes delivery.
type Config struct {
	// MaxConcurrentSends caps the sessions open at once. Zero means
	// DefaultMaxConcurrentSends.
	MaxConcurrentSends int
	// Priority applied to every notification. Zero means high.
	Priority legacy.Priority
	// Expiry is added to the send time. Zero means the gateway default.
	Expiry time.Duration
}

type Dispatcher struct {
	pusher  Pusher
	cfg     Config
	metrics *metrics.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher wraps pusher. reg may be nil.
func NewDispatcher(pusher Pusher, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Dispatcher {
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = DefaultMaxConcurrentSends
	}
	return &Dispatcher{
		pusher:  pusher,
		cfg:     cfg,
		metrics: reg,
		logger:  logger.With("component", "APNSDispatcher"),
		now:     time.Now,
	}
}

// BuildPayload renders the notification as the JSON document the device
// receives. Data entries become top-level custom keys beside "aps".
func BuildPayload(content notification.NotificationContent, data map[string]string) ([]byte, error) {
	builder := payload.NewPayload()
	if content.Title != "" {
		builder.AlertTitle(content.Title)
	}
	if content.Body != "" {
		builder.AlertBody(content.Body)
	}
	if content.Sound != "" {
		builder.Sound(content.Sound)
	}
	for k, v := range data {
		builder.Custom(k, v)
	}
	b, err := json.Marshal(builder)
	if err != nil {
		return nil, fmt.Errorf("failed to render payload: %w", err)
	}
	return b, nil
}

type deliveryResult struct {
	err error
}

// Dispatch sends the notification to every token, one gateway session per
// token. Tokens the gateway blames are returned for cleanup. The error is
// non-nil only when the payload cannot be sent at all or every delivery
// failed before the gateway could judge it.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []legacy.DeviceToken,
	content notification.NotificationContent,
	data map[string]string,
) (string, []legacy.DeviceToken, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	body, err := BuildPayload(content, data)
	if err != nil {
		return "", nil, err
	}
	if len(body) > legacy.MaxPayloadSize {
		return "", nil, fmt.Errorf("%w: rendered payload is %d bytes", legacy.ErrPayloadTooLarge, len(body))
	}

	opts := d.deliverOptions()
	results := make([]deliveryResult, len(tokens))

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrentSends)
	for i, token := range tokens {
		g.Go(func() error {
			start := time.Now()
			_, err := d.pusher.Deliver(ctx, token.String(), body, opts...)
			d.record(token, err, time.Since(start))
			results[i] = deliveryResult{err: err}
			if isTransportFailure(err) {
				return err
			}
			return nil
		})
	}
	// Wait reports the first transport failure; the group never cancels,
	// so every token is still attempted.
	transportErr := g.Wait()

	var invalid []legacy.DeviceToken
	sent, rejected, transport := 0, 0, 0
	for i, res := range results {
		switch {
		case res.err == nil:
			sent++
		case legacy.IsTokenError(res.err):
			invalid = append(invalid, tokens[i])
		case isGatewayRejection(res.err):
			rejected++
		default:
			transport++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d rejected:%d total_fail:%d", sent, len(invalid), rejected, len(tokens)-sent)
	if transport == len(tokens) {
		return receipt, nil, fmt.Errorf("all %d deliveries failed: %w", transport, transportErr)
	}
	return receipt, invalid, nil
}

func (d *Dispatcher) deliverOptions() []legacy.DeliverOption {
	var opts []legacy.DeliverOption
	if d.cfg.Priority != 0 {
		opts = append(opts, legacy.WithPriority(d.cfg.Priority))
	}
	if d.cfg.Expiry > 0 {
		opts = append(opts, legacy.WithExpiration(d.now().Add(d.cfg.Expiry)))
	}
	return opts
}

func (d *Dispatcher) record(token legacy.DeviceToken, err error, elapsed time.Duration) {
	var gwErr *legacy.GatewayError
	switch {
	case err == nil:
		d.metrics.ObserveDelivery(metrics.OutcomeSent, elapsed)
	case errors.As(err, &gwErr):
		d.metrics.IncGatewayStatus(gwErr.Status.String())
		if gwErr.IsTokenError() {
			d.metrics.ObserveDelivery(metrics.OutcomeTokenRejected, elapsed)
			d.logger.Info("Gateway rejected device token", "token", token.String(), "status", gwErr.Status.String())
			return
		}
		d.metrics.ObserveDelivery(metrics.OutcomeGatewayRejected, elapsed)
		d.logger.Warn("Gateway rejected notification", "token", token.String(), "status", gwErr.Status.String(), "id", gwErr.NotificationID)
	case errors.Is(err, legacy.ErrInvalidToken):
		d.metrics.ObserveDelivery(metrics.OutcomeTokenRejected, elapsed)
	default:
		d.metrics.ObserveDelivery(metrics.OutcomeTransportFailed, elapsed)
		d.logger.Error("APNs transport failed", "token", token.String(), "err", err)
	}
}

func isTransportFailure(err error) bool {
	return err != nil && !legacy.IsTokenError(err) && !isGatewayRejection(err)
}

func isGatewayRejection(err error) bool {
	var gwErr *legacy.GatewayError
	return errors.As(err, &gwErr)
}
