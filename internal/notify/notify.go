// Package notify delivers user-facing notifications. Configured
// channels are tried in priority order (Telegram, Slack, MQTT, email);
// when none is configured or all fail, the message is written to the
// memory log so it is never silently lost.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/httpkit"
	"github.com/nugget/luminary/internal/memory"
)

// ChannelMemory names the fallback delivery.
const ChannelMemory = "memory"

// TimeLayout renders the {time} placeholder.
const TimeLayout = "1/2/2006, 3:04:05 PM"

// fallbackTTLDays is how long a fallback log note lives.
const fallbackTTLDays = 3

// Channel is one external delivery mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// NoteWriter persists the fallback log note.
type NoteWriter interface {
	Write(ctx context.Context, in memory.WriteInput) (*memory.Note, error)
}

// Result reports which channel delivered a message.
type Result struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Notifier fans a message out to the first channel that accepts it.
type Notifier struct {
	channels []Channel
	notes    NoteWriter
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Notifier over channels in the given order. loc sets
// the zone for the {time} placeholder; nil means local time.
func New(channels []Channel, notes NoteWriter, loc *time.Location, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Notifier{
		channels: channels,
		notes:    notes,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// ChannelsFromConfig builds every configured channel in priority
// order. The MQTT channel is returned separately as well because its
// connection must be started and stopped by the caller.
func ChannelsFromConfig(cfg config.NotifyConfig, logger *slog.Logger) ([]Channel, *MQTT) {
	client := httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	var chans []Channel
	if cfg.Telegram.Configured() {
		chans = append(chans, NewTelegram(cfg.Telegram, client))
	}
	if cfg.Slack.Configured() {
		chans = append(chans, NewSlack(cfg.Slack.WebhookURL, client))
	}
	var mq *MQTT
	if cfg.MQTT.Configured() {
		mq = NewMQTT(cfg.MQTT, logger)
		chans = append(chans, mq)
	}
	if cfg.Email.Configured() {
		chans = append(chans, NewEmail(cfg.Email))
	}
	return chans, mq
}

// Channels returns the configured channel names in priority order.
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels)+1)
	for _, c := range n.channels {
		names = append(names, c.Name())
	}
	return append(names, ChannelMemory)
}

// Expand replaces every {time} placeholder with the current time.
func (n *Notifier) Expand(message string) string {
	if !strings.Contains(message, "{time}") {
		return message
	}
	return strings.ReplaceAll(message, "{time}", n.now().In(n.loc).Format(TimeLayout))
}

// Send expands placeholders and delivers message through the first
// channel that succeeds, falling back to a memory log note for userID.
func (n *Notifier) Send(ctx context.Context, userID, message string) Result {
	message = n.Expand(message)

	for _, c := range n.channels {
		err := c.Send(ctx, message)
		if err == nil {
			n.logger.Info("notification delivered", "channel", c.Name(), "user_id", userID)
			return Result{Channel: c.Name(), Success: true, Message: message}
		}
		n.logger.Warn("notification channel failed", "channel", c.Name(), "error", err)
	}

	if n.notes == nil {
		return Result{Channel: ChannelMemory, Success: false, Message: message, Error: "no notification channel available"}
	}
	_, err := n.notes.Write(ctx, memory.WriteInput{
		Kind:      memory.KindLog,
		Content:   "[NOTIFICATION] " + message,
		UserID:    userID,
		Tags:      []string{"notification"},
		Stability: memory.Volatile,
		TTLDays:   fallbackTTLDays,
	})
	if err != nil {
		return Result{Channel: ChannelMemory, Success: false, Message: message, Error: fmt.Sprintf("write fallback note: %v", err)}
	}
	n.logger.Info("notification stored in memory log", "user_id", userID)
	return Result{Channel: ChannelMemory, Success: true, Message: message}
}

// postJSON is shared by the webhook-style channels.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	return nil
}
