package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"grid-trader-go/internal/logger"
)

// Telegram sends messages through the Telegram Bot HTTP API.
type Telegram struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegram creates a telegram notifier. Credentials come from the
// environment, never from the config file.
func NewTelegram(botToken, chatID string) (*Telegram, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram notifier requires both bot token and chat id")
	}
	return &Telegram{
		endpoint: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken),
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Notify sends the message on a background goroutine. Errors are logged
// and dropped.
func (t *Telegram) Notify(text string) {
	go func() {
		payload, err := json.Marshal(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		})
		if err != nil {
			logger.S().Warnf("failed to encode telegram message: %v", err)
			return
		}

		resp, err := t.client.Post(t.endpoint, "application/json", bytes.NewReader(payload))
		if err != nil {
			logger.S().Warnf("failed to deliver telegram message: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			logger.S().Warnf("telegram API returned status %d", resp.StatusCode)
		}
	}()
}
