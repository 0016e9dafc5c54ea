package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultExpoURL is the Expo push gateway endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// ExpoSender delivers notifications through the Expo push service. Device
// tokens are Expo push tokens registered by the mobile client.
type ExpoSender struct {
	url    string
	client *http.Client
}

func NewExpoSender(url string) *ExpoSender {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send pushes one notification to one device token.
func (s *ExpoSender) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	payload, err := json.Marshal(expoMessage{
		To:    deviceToken,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	for _, r := range out.Data {
		if r.Status == "error" {
			return fmt.Errorf("push rejected: %s", r.Message)
		}
	}
	return nil
}
