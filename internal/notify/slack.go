// Package notify posts terminal task outcomes to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// slackAPI is the subset of the Slack client the notifier uses.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts one message per finished task. A nil notifier is valid
// and does nothing, so callers without a configured channel skip the wiring.
type SlackNotifier struct {
	api     slackAPI
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier builds a notifier for the given channel. Returns nil when
// token or channel is empty.
func NewSlackNotifier(token, channel string, logger *slog.Logger) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{api: slack.New(token), channel: channel, logger: logger}
}

// NotifyOutcome posts a success or failure message for the task.
func (n *SlackNotifier) NotifyOutcome(ctx context.Context, task string, success bool, detail string) error {
	if n == nil {
		return nil
	}

	text := fmt.Sprintf(":white_check_mark: Task completed: %s", task)
	if !success {
		text = fmt.Sprintf(":x: Task failed: %s", task)
		if detail != "" {
			text += "\n> " + detail
		}
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting to %s: %w", n.channel, err)
	}
	n.logger.Info("posted outcome notification", "channel", n.channel, "success", success)
	return nil
}
