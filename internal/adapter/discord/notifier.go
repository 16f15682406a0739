// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/civicforge/civicforge/internal/port/notifier"
)

const providerName = "discord"

const embedColor = 0x3498DB

// Notifier sends validator assignment notifications to Discord via incoming
// webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		PerRecipient:   false,
	}
}

// discordWebhook is the Discord webhook payload with embeds.
type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, assignment notifier.Assignment) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	description := fmt.Sprintf("<%s> you have been assigned evaluation `%s`.\n%s",
		assignment.ValidatorAgentID, assignment.EvaluationID, assignment.Summary)
	if len(assignment.Rubric) > 0 {
		description += "\n\n**Rubric:**\n- " + strings.Join(assignment.Rubric, "\n- ")
	}

	msg := discordWebhook{
		Embeds: []discordEmbed{{
			Title:       fmt.Sprintf("Review requested: %s submission", assignment.SubmissionType),
			Description: description,
			Color:       embedColor,
			Footer:      &discordFooter{Text: "Respond before " + assignment.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
