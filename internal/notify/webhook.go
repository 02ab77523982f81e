package notify

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nugget/luminary/internal/config"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	cfg     config.TelegramConfig
	apiBase string
	client  *http.Client
}

// NewTelegram creates a Telegram channel.
func NewTelegram(cfg config.TelegramConfig, client *http.Client) *Telegram {
	return &Telegram{cfg: cfg, apiBase: DefaultTelegramAPI, client: client}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"chat_id": t.cfg.ChatID, "text": message})
	if err != nil {
		return err
	}
	return postJSON(ctx, t.client, t.apiBase+"/bot"+t.cfg.BotToken+"/sendMessage", body)
}

// Slack posts to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a Slack webhook channel.
func NewSlack(webhookURL string, client *http.Client) *Slack {
	return &Slack{webhookURL: webhookURL, client: client}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.client, s.webhookURL, body)
}
