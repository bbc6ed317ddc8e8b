package runregistry_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/runregistry"
)

func newClient(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return kv.FromRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestStartAndGetReachesCompleted(t *testing.T) {
	ctx := context.Background()
	reg := runregistry.New(newClient(t))

	runID, err := reg.Start(ctx, func(_ context.Context, progress chan<- pipeline.ProgressEvent) (map[string]any, error) {
		progress <- pipeline.ProgressEvent{Step: "identity", Index: 0, Total: 2}
		progress <- pipeline.ProgressEvent{Step: "database_save", Index: 1, Total: 2}
		return map[string]any{"saved": true}, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		rec, ok, err := reg.Get(ctx, runID)
		require.NoError(t, err)
		return ok && rec.Status == runregistry.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	rec, ok, err := reg.Get(ctx, runID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, true, rec.Result["saved"])
}

func TestStartFailurePropagates(t *testing.T) {
	ctx := context.Background()
	reg := runregistry.New(newClient(t))

	runID, err := reg.Start(ctx, func(_ context.Context, _ chan<- pipeline.ProgressEvent) (map[string]any, error) {
		return nil, assertError{}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, ok, err := reg.Get(ctx, runID)
		require.NoError(t, err)
		return ok && rec.Status == runregistry.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestStreamEmitsNDJSONUntilDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reg := runregistry.New(newClient(t))

	runID, err := reg.Start(ctx, func(_ context.Context, progress chan<- pipeline.ProgressEvent) (map[string]any, error) {
		time.Sleep(20 * time.Millisecond)
		progress <- pipeline.ProgressEvent{Step: "identity", Index: 0, Total: 1}
		return map[string]any{"saved": true}, nil
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reg.Stream(ctx, runID, &buf))
	require.Contains(t, buf.String(), `"step":"identity"`)
	require.Contains(t, buf.String(), `"type":"done"`)
}

func TestAnnotateStampsFailureKeysOnUnsavedRun(t *testing.T) {
	result := lead.New(map[string]any{"name": "Jane Doe"})
	errs := []*pipeline.StationError{{Step: "chimera", Reason: "mission timed out waiting for a Core reply"}}

	runregistry.Annotate(result, []string{"identity", "chimera"}, errs)

	require.Equal(t, string(runregistry.FailureCoreTimeout), result.String(runregistry.KeyFailureMode))
	require.Equal(t, "chimera", result.String(runregistry.KeyFailureAt))
	require.NotEmpty(t, result.String(runregistry.KeyFailureHint))
}

func TestAnnotateLeavesSavedRunAlone(t *testing.T) {
	result := lead.New(map[string]any{"saved": true})

	runregistry.Annotate(result, []string{"identity", "database_save"}, nil)

	require.False(t, result.Has(runregistry.KeyFailureMode))
}

func TestInferFailureModeClassifiesCaptcha(t *testing.T) {
	mode := runregistry.InferFailureMode([]string{"blueprint_loader", "chimera"}, []string{"chimera: captcha solve failed"})
	require.Equal(t, runregistry.FailureCaptcha, mode)
}

func TestInferFailureModeStartup(t *testing.T) {
	mode := runregistry.InferFailureMode(nil, nil)
	require.Equal(t, runregistry.FailureStartup, mode)
}

func TestInferFailureModeDownstream(t *testing.T) {
	mode := runregistry.InferFailureMode([]string{"identity", "chimera", "database_save"}, nil)
	require.Equal(t, runregistry.FailureDownstream, mode)
}
