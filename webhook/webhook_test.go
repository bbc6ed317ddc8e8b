package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/webhook"
)

func TestProviderBlacklistedPostsGenericPayload(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p map[string]any
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
	}))
	defer srv.Close()

	n := webhook.New("", srv.URL, zerolog.Nop())
	n.ProviderBlacklisted(context.Background(), "ZabaSearch", "entropy_poison")

	require.Len(t, payloads, 1)
	require.Equal(t, "provider_blacklisted", payloads[0]["event"])
	require.Equal(t, "ZabaSearch", payloads[0]["provider"])
	require.Equal(t, float64(4), payloads[0]["ttl_hours"])
}

func TestNoURLsConfiguredIsANoOp(t *testing.T) {
	n := webhook.New("", "", zerolog.Nop())
	// Must not panic or block.
	n.ProviderBlacklisted(context.Background(), "ZabaSearch", "entropy_poison")
	n.SystemPaused(context.Background(), "budget floor reached")
	n.MappingRequired(context.Background(), "zabasearch.com")
}
