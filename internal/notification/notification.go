package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// NotificationType classifies what a notification is about
type NotificationType string

const (
	NotifyReport NotificationType = "report"
	NotifyTrade  NotificationType = "trade"
	NotifyError  NotificationType = "error"
	NotifyInfo   NotificationType = "info"
)

// Notification is one message bound for every configured channel
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Timestamp time.Time
}

// Notifier is implemented by each delivery channel
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a notification out to every enabled provider.
type Manager struct {
	notifiers []Notifier
	log       zerolog.Logger
}

// NewManager builds an empty manager; register providers with AddNotifier.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Enabled reports whether any provider is configured and active.
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			return true
		}
	}
	return false
}

// Send delivers to every enabled provider; one failing channel does not
// stop the others, the last error is returned.
func (m *Manager) Send(notification *Notification) error {
	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(notification); err != nil {
			m.log.Error().Err(err).Str("provider", n.Name()).Msg("notification failed")
			lastErr = err
		}
	}
	return lastErr
}

// SendTradeNotification reports a placed order.
func (m *Manager) SendTradeNotification(symbol, side string, quantity int, price float64, status string) error {
	emoji := "🟢"
	if side == "sell" || side == "SELL" {
		emoji = "🔴"
	}

	return m.Send(&Notification{
		Type:      NotifyTrade,
		Title:     fmt.Sprintf("%s Order Placed: %s", emoji, symbol),
		Message:   fmt.Sprintf("%s %d %s @ $%.2f\nStatus: %s", side, quantity, symbol, price, status),
		Symbol:    symbol,
		Timestamp: time.Now(),
	})
}

// SendAlert sends an error or informational alert.
func (m *Manager) SendAlert(level, title, message string) error {
	notifyType := NotifyInfo
	if level == "error" {
		notifyType = NotifyError
		title = fmt.Sprintf("⚠️ %s", title)
	}

	return m.Send(&Notification{
		Type:      notifyType,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier posts messages through the Telegram bot API
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier. It is disabled
// when either the token or the chat ID is missing.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  botToken != "" && chatID != "",
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := notification.Message
	if notification.Title != "" {
		message = fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("posting telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier posts embeds to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier builds a Discord notifier, disabled when the
// webhook URL is empty.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		enabled:    webhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if notification.Type == NotifyError {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}
	if notification.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("posting discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}
