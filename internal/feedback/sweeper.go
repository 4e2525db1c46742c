// Package feedback periodically drains the APNs feedback service and
// removes the reported device tokens from the token store.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-apns-legacy/internal/metrics"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
)

// Records yields feedback records until iterator.Done.
type Records interface {
	Next() (apns.FeedbackRecord, error)
	Close() error
}

// Source opens one pass over the feedback service.
type Source interface {
	Open(ctx context.Context) (Records, error)
}

// ClientSource opens feedback streams through an apns.Client.
type ClientSource struct {
	Client *apns.Client
	// ReadTimeout bounds the whole read of one stream. Zero means no bound.
	ReadTimeout time.Duration
}

func (s ClientSource) Open(ctx context.Context) (Records, error) {
	stream, err := s.Client.Feedback(ctx)
	if err != nil {
		return nil, err
	}
	if s.ReadTimeout > 0 {
		if err := stream.SetDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("failed to set feedback deadline: %w", err)
		}
	}
	return stream, nil
}

// SweepResult counts what one sweep did with the records it read.
type SweepResult struct {
	Records      int
	Removed      int
	Unknown      int
	Reregistered int
	Failed       int
}

type Sweeper struct {
	source  Source
	store   dispatch.TokenStore
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewSweeper builds a sweeper. reg may be nil.
func NewSweeper(source Source, store dispatch.TokenStore, reg *metrics.Registry, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		source:  source,
		store:   store,
		metrics: reg,
		logger:  logger.With("component", "FeedbackSweeper"),
	}
}

// Sweep reads every pending record and unregisters the token from its
// current owner, unless the token was registered again after the gateway
// reported it. The result covers the records read before any error.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	records, err := s.source.Open(ctx)
	if err != nil {
		s.metrics.IncFeedbackSweep(true)
		return result, fmt.Errorf("failed to open feedback stream: %w", err)
	}
	defer records.Close()

	for {
		if err := ctx.Err(); err != nil {
			s.finish(result, err)
			return result, err
		}
		rec, err := records.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			s.finish(result, err)
			return result, fmt.Errorf("feedback stream failed after %d records: %w", result.Records, err)
		}
		result.Records++
		s.apply(ctx, rec, &result)
	}

	s.finish(result, nil)
	return result, nil
}

func (s *Sweeper) apply(ctx context.Context, rec apns.FeedbackRecord, result *SweepResult) {
	token := rec.Token.String()

	owner, err := s.store.Owner(ctx, rec.Token)
	if errors.Is(err, dispatch.ErrTokenNotFound) {
		result.Unknown++
		return
	}
	if err != nil {
		result.Failed++
		s.logger.Warn("Failed to look up feedback token", "token", token, "err", err)
		return
	}
	if owner.UpdatedAt.After(rec.Timestamp) {
		result.Reregistered++
		s.logger.Debug("Token registered again after feedback; keeping", "token", token,
			"reported_at", rec.Timestamp, "updated_at", owner.UpdatedAt)
		return
	}
	if err := s.store.Unregister(ctx, owner.User, rec.Token); err != nil {
		result.Failed++
		s.logger.Warn("Failed to unregister feedback token", "token", token, "err", err)
		return
	}
	result.Removed++
}

func (s *Sweeper) finish(result SweepResult, err error) {
	s.metrics.AddFeedbackRecords(result.Records)
	s.metrics.IncTokensRemoved(metrics.RemovedByFeedback, result.Removed)
	s.metrics.IncFeedbackSweep(err != nil)
	s.logger.Info("Feedback sweep finished",
		"records", result.Records,
		"removed", result.Removed,
		"unknown", result.Unknown,
		"reregistered", result.Reregistered,
		"failed", result.Failed,
		"err", err,
	)
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Feedback sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
