// Package slack implements a notifier.Notifier for Slack webhooks.
package slack

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

const providerName = "slack"

// Notifier sends validator assignment notifications to Slack via incoming
// webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
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

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, assignment notifier.Assignment) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	headerText := fmt.Sprintf("Review requested: %s submission", assignment.SubmissionType)
	body := fmt.Sprintf("<%s> you have been assigned evaluation `%s`.\n%s",
		assignment.ValidatorAgentID, assignment.EvaluationID, assignment.Summary)

	msg := slackMessage{
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: headerText}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
		},
	}

	if len(assignment.Rubric) > 0 {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Rubric:*\n• " + strings.Join(assignment.Rubric, "\n• ")},
		})
	}
	msg.Blocks = append(msg.Blocks, slackBlock{
		Type: "context",
		Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_Respond before %s_", assignment.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))},
	})

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
