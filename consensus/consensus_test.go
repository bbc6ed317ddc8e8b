package consensus_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/consensus"
	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
)

func newClient(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return kv.FromRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) ProviderBlacklisted(_ context.Context, provider, _ string) {
	n.calls = append(n.calls, provider)
}

func TestNormalizeStripsPunctuation(t *testing.T) {
	require.Equal(t, "5125550100", consensus.Normalize("(512) 555-0100"))
	require.Equal(t, "5125550100", consensus.Normalize("512-555-0100"))
}

func TestRecordDataPointBlacklistsAfterFourthDistinctLead(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	tr := consensus.NewTracker(newClient(t), notifier)

	leadIDs := []string{
		"https://linkedin.com/in/lead-1",
		"https://linkedin.com/in/lead-2",
		"https://linkedin.com/in/lead-3",
		"https://linkedin.com/in/lead-4",
	}

	var poisoned bool
	var err error
	for i, id := range leadIDs {
		poisoned, err = tr.RecordDataPoint(ctx, "ZabaSearch", "phone", "512-555-0100", id)
		require.NoError(t, err)
		if i < 3 {
			require.False(t, poisoned, "lead %d should not trip the threshold yet", i+1)
		}
	}

	require.True(t, poisoned, "the 4th distinct lead should trip the threshold")
	require.Len(t, notifier.calls, 1)

	bl, err := tr.IsBlacklisted(ctx, "ZabaSearch")
	require.NoError(t, err)
	require.True(t, bl)
}

func TestRecordDataPointBelowThresholdDoesNotBlacklist(t *testing.T) {
	ctx := context.Background()
	tr := consensus.NewTracker(newClient(t), nil)

	poisoned, err := tr.RecordDataPoint(ctx, "FastPeopleSearch", "phone", "512-555-0100", "https://linkedin.com/in/lead-1")
	require.NoError(t, err)
	require.False(t, poisoned)

	bl, err := tr.IsBlacklisted(ctx, "FastPeopleSearch")
	require.NoError(t, err)
	require.False(t, bl)
}

func TestRecordDataPointDifferentProvidersDoNotShareAPoisonWindow(t *testing.T) {
	ctx := context.Background()
	tr := consensus.NewTracker(newClient(t), nil)

	providers := []string{"FastPeopleSearch", "ZabaSearch", "TruePeopleSearch", "ThatsThem"}
	for i, p := range providers {
		leadID := fmt.Sprintf("https://linkedin.com/in/lead-%d", i)
		poisoned, err := tr.RecordDataPoint(ctx, p, "phone", "512-555-0100", leadID)
		require.NoError(t, err)
		require.False(t, poisoned, "distinct providers seeing the same phone once each is not entropy poison")
	}
}

func TestDeltasConflict(t *testing.T) {
	cases := []struct {
		name string
		a, b map[string]any
		want bool
	}{
		{
			name: "phones differ after normalization",
			a:    map[string]any{lead.KeyChimeraPhone: "+15551110000"},
			b:    map[string]any{lead.KeyChimeraPhone: "555-222-0000"},
			want: true,
		},
		{
			name: "phones equal across formats",
			a:    map[string]any{lead.KeyChimeraPhone: "(555) 111-0000"},
			b:    map[string]any{lead.KeyChimeraPhone: "5551110000"},
			want: false,
		},
		{
			name: "missing key on one side is not a conflict",
			a:    map[string]any{lead.KeyChimeraPhone: "5551110000"},
			b:    map[string]any{lead.KeyChimeraEmail: "jane@example.com"},
			want: false,
		},
		{
			name: "ages disagree across numeric types",
			a:    map[string]any{lead.KeyChimeraAge: 45},
			b:    map[string]any{lead.KeyChimeraAge: 52.0},
			want: true,
		},
		{
			name: "emails disagree",
			a:    map[string]any{lead.KeyChimeraEmail: "jane@example.com"},
			b:    map[string]any{lead.KeyChimeraEmail: "janet@example.com"},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, consensus.DeltasConflict(tc.a, tc.b))
		})
	}
}

func TestCheckCrossSourceFlagsDisagreement(t *testing.T) {
	r := lead.New(map[string]any{
		"company": "Acme Corp",
		"title":   "VP Sales",
		"phone":   "512-555-0100",
	})

	consensus.CheckCrossSource(r, "512-555-9999")

	require.True(t, r.Bool(lead.KeyNeedsReconciliation))
}

func TestCheckCrossSourceAgreesSilently(t *testing.T) {
	r := lead.New(map[string]any{
		"company": "Acme Corp",
		"title":   "VP Sales",
		"phone":   "512-555-0100",
	})

	consensus.CheckCrossSource(r, "(512) 555-0100")

	require.False(t, r.Has(lead.KeyNeedsReconciliation))
}

func TestCheckCrossSourceSkipsLowValueLeads(t *testing.T) {
	r := lead.New(map[string]any{"phone": "512-555-0100"})

	consensus.CheckCrossSource(r, "512-555-9999")

	require.False(t, r.Has(lead.KeyNeedsReconciliation))
}

func TestFlagLowConfidence(t *testing.T) {
	r := lead.New(map[string]any{})
	consensus.FlagLowConfidence(r, 0.80)
	require.True(t, r.Bool(lead.KeyNeedsOlmocrVerification))

	r2 := lead.New(map[string]any{})
	consensus.FlagLowConfidence(r2, 0.99)
	require.False(t, r2.Has(lead.KeyNeedsOlmocrVerification))
}
