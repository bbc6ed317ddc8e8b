package worker_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/worker"
)

type stubStation struct {
	name  string
	delta map[string]any
	runs  *int32
}

func (s stubStation) Name() string                             { return s.name }
func (s stubStation) RequiredInputs() []string                 { return nil }
func (s stubStation) ProducesOutputs() []string                { return nil }
func (s stubStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }
func (s stubStation) Process(_ context.Context, _ *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if s.runs != nil {
		atomic.AddInt32(s.runs, 1)
	}
	return s.delta, pipeline.Continue, nil
}

func newClient(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return kv.FromRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func enqueue(t *testing.T, c *kv.Client, queue string, data map[string]any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.LPush(context.Background(), queue, string(payload)))
}

func TestLoopProcessesSavedLeadOnce(t *testing.T) {
	c := newClient(t)
	var runs int32
	engine := pipeline.NewEngine("test", []pipeline.Station{
		stubStation{name: "save", delta: map[string]any{lead.KeySaved: true}, runs: &runs},
	})

	loop := worker.New(c, engine, worker.Config{
		QueueName: "leads_to_enrich", DLQName: "failed_leads",
		MaxAttempts: 3, BaseDelay: time.Millisecond, Concurrency: 2, BudgetLimit: 5.0,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	enqueue(t, c, "leads_to_enrich", map[string]any{"name": "Jane Doe"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	dlq, err := c.LLen(context.Background(), "failed_leads")
	require.NoError(t, err)
	require.Zero(t, dlq)
}

func TestLoopDeadLettersAfterMaxAttempts(t *testing.T) {
	c := newClient(t)
	// No station ever sets saved=true, so every attempt requeues.
	engine := pipeline.NewEngine("test", []pipeline.Station{
		stubStation{name: "noop"},
	})

	loop := worker.New(c, engine, worker.Config{
		QueueName: "leads_to_enrich", DLQName: "failed_leads",
		MaxAttempts: 2, BaseDelay: time.Millisecond, Concurrency: 1, BudgetLimit: 5.0,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	enqueue(t, c, "leads_to_enrich", map[string]any{"name": "Jane Doe"})

	require.Eventually(t, func() bool {
		n, err := c.LLen(context.Background(), "failed_leads")
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLoopDropsValidationRejectedLeadWithoutRetry(t *testing.T) {
	c := newClient(t)
	var runs int32
	engine := pipeline.NewEngine("test", []pipeline.Station{
		stubStation{name: "gate", delta: map[string]any{lead.KeyValidationRejected: true}, runs: &runs},
	})

	loop := worker.New(c, engine, worker.Config{
		QueueName: "leads_to_enrich", DLQName: "failed_leads",
		MaxAttempts: 3, BaseDelay: time.Millisecond, Concurrency: 1, BudgetLimit: 5.0,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	enqueue(t, c, "leads_to_enrich", map[string]any{"name": "Jane Doe"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	// Give a would-be requeue time to land, then confirm nothing did.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
	dlq, err := c.LLen(context.Background(), "failed_leads")
	require.NoError(t, err)
	require.Zero(t, dlq)
}
