// Package worker runs the queue-consuming side of the pipeline: pop a lead
// off the inbound queue, run it through a pipeline.Engine, and on anything
// short of a successful save, requeue with exponential backoff before
// finally routing it to a dead-letter queue.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/metrics"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/runregistry"
)

const attemptsFieldKey = "_requeue_attempts"

// Config controls backoff and concurrency for the worker loop.
type Config struct {
	QueueName   string
	DLQName     string
	MaxAttempts int
	BaseDelay   time.Duration
	Concurrency int64
	BudgetLimit float64
}

// Loop pops leads off a Redis list, enriches them, and requeues or
// dead-letters on failure.
type Loop struct {
	kv     *kv.Client
	engine *pipeline.Engine
	cfg    Config
	log    zerolog.Logger
}

// New builds a Loop.
func New(client *kv.Client, engine *pipeline.Engine, cfg Config, log zerolog.Logger) *Loop {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Loop{kv: client, engine: engine, cfg: cfg, log: log.With().Str("component", "worker").Logger()}
}

// Run blocks, popping leads and processing them until ctx is canceled. Each
// lead runs on its own goroutine, bounded by cfg.Concurrency.
func (l *Loop) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(l.cfg.Concurrency)
	group, gctx := errgroup.WithContext(ctx)

	go l.reportQueueDepth(gctx)

	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		default:
		}

		raw, ok, err := l.kv.BRPop(gctx, l.cfg.QueueName, 2*time.Second)
		if err != nil {
			l.log.Error().Err(err).Msg("queue pop failed")
			continue
		}
		if !ok {
			continue
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			return group.Wait()
		}

		payload := raw
		group.Go(func() error {
			defer sem.Release(1)
			l.process(gctx, payload)
			return nil
		})
	}
}

// reportQueueDepth polls the inbound and dead-letter queue lengths so the
// /metrics endpoint reflects backlog without every pop needing to know
// about Prometheus.
func (l *Loop) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := l.kv.LLen(ctx, l.cfg.QueueName); err == nil {
				metrics.QueueDepth.WithLabelValues(l.cfg.QueueName).Set(float64(n))
			}
			if n, err := l.kv.LLen(ctx, l.cfg.DLQName); err == nil {
				metrics.QueueDepth.WithLabelValues(l.cfg.DLQName).Set(float64(n))
			}
		}
	}
}

func (l *Loop) process(ctx context.Context, payload string) {
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		l.log.Error().Err(err).Msg("dropping unparseable queue payload")
		return
	}

	record := lead.New(data)
	pctx := pipeline.NewContext(record, l.cfg.BudgetLimit, nil)
	result := l.engine.Run(ctx, pctx)

	metrics.PipelineCost.Observe(pctx.TotalCost)

	if result.Bool(lead.KeySaved) {
		return
	}
	if result.Bool(lead.KeyValidationRejected) {
		// A deliberate rejection, not a failure: retrying would just spend
		// the validation budget again on the same dead number.
		l.log.Info().Str("name", result.String(lead.KeyName)).Msg("lead rejected by phone validation")
		return
	}

	runregistry.Annotate(result, pctx.History, pctx.Errors)
	l.log.Warn().
		Str("failure_mode", result.String(runregistry.KeyFailureMode)).
		Str("failure_at", result.String(runregistry.KeyFailureAt)).
		Int("errors", len(pctx.Errors)).
		Msg("lead finished without saving")

	l.requeueOrDrop(ctx, payload, data)
}

func (l *Loop) requeueOrDrop(ctx context.Context, originalPayload string, data map[string]any) {
	attempts := 0
	if v, ok := data[attemptsFieldKey].(float64); ok {
		attempts = int(v)
	}
	attempts++

	if attempts > l.cfg.MaxAttempts {
		if err := l.kv.LPush(ctx, l.cfg.DLQName, originalPayload); err != nil {
			l.log.Error().Err(err).Msg("failed to push to dead letter queue")
		}
		return
	}

	data[attemptsFieldKey] = attempts
	payload, err := json.Marshal(data)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to marshal lead for requeue")
		return
	}

	delay := backoff(l.cfg.BaseDelay, attempts)
	go func() {
		time.Sleep(delay)
		if err := l.kv.LPush(context.Background(), l.cfg.QueueName, string(payload)); err != nil {
			l.log.Error().Err(err).Msg("failed to requeue lead")
		}
	}()
}

// backoff returns baseDelay * 2^(attempt-1).
func backoff(baseDelay time.Duration, attempt int) time.Duration {
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
