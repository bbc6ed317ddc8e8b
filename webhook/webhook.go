// Package webhook delivers best-effort operational alerts. Provider
// blacklisting and system-pause events are important for a human to see
// quickly but must never fail the pipeline that triggered them, so errors
// here are logged, never returned to the caller. Sends are synchronous;
// each HTTP call is bounded by a 5-second client timeout.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Notifier posts operational alerts to Slack via an incoming webhook, and
// mirrors a machine-readable JSON payload to a generic HTTP POST sink for
// non-Slack consumers.
type Notifier struct {
	slackWebhookURL string
	genericURL      string
	client          *http.Client
	log             zerolog.Logger
}

// New builds a Notifier. Either URL may be empty, in which case sends to
// that sink are silently skipped.
func New(slackWebhookURL, genericURL string, log zerolog.Logger) *Notifier {
	return &Notifier{
		slackWebhookURL: slackWebhookURL,
		genericURL:      genericURL,
		client:          &http.Client{Timeout: 5 * time.Second},
		log:             log.With().Str("component", "webhook").Logger(),
	}
}

// ProviderBlacklisted alerts that a provider was blacklisted by the
// anti-poisoning tracker.
func (n *Notifier) ProviderBlacklisted(ctx context.Context, provider, reason string) {
	msg := slack.WebhookMessage{
		Text: "Provider blacklisted: " + provider,
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, "*Provider blacklisted*: `"+provider+"`\n"+reason, false, false),
					nil, nil,
				),
			},
		},
	}
	n.send(ctx, msg)
	n.sendGeneric(ctx, map[string]any{
		"event":     "provider_blacklisted",
		"provider":  provider,
		"reason":    reason,
		"ttl_hours": 4,
	})
}

// SystemPaused alerts that the pipeline's global pause flag is set, meaning
// the worker fleet is intentionally idle.
func (n *Notifier) SystemPaused(ctx context.Context, reason string) {
	msg := slack.WebhookMessage{
		Text: "Enrichment system paused",
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, "*Enrichment system paused*\n"+reason, false, false),
					nil, nil,
				),
			},
		},
	}
	n.send(ctx, msg)
	n.sendGeneric(ctx, map[string]any{
		"event":  "system_paused",
		"reason": reason,
	})
}

// MappingRequired alerts that a domain has no blueprint and was queued for
// auto-mapping.
func (n *Notifier) MappingRequired(ctx context.Context, domain string) {
	msg := slack.WebhookMessage{
		Text: "Blueprint mapping required: " + domain,
	}
	n.send(ctx, msg)
}

func (n *Notifier) send(_ context.Context, msg slack.WebhookMessage) {
	if n.slackWebhookURL == "" {
		return
	}
	if err := slack.PostWebhookCustomHTTP(n.slackWebhookURL, n.client, &msg); err != nil {
		n.log.Warn().Err(err).Msg("slack webhook delivery failed")
	}
}

func (n *Notifier) sendGeneric(ctx context.Context, payload map[string]any) {
	if n.genericURL == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.genericURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Msg("generic webhook delivery failed")
		return
	}
	resp.Body.Close()
}
