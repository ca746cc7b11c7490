// SPDX-License-Identifier: MIT

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender forwards outbound messages to the chat gateway process over
// HTTP. The gateway owns the actual chat protocol; the core only needs a
// delivery confirmation, which is any 2xx answer.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a sender posting to the given gateway URL.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type outboundMessage struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, userID int64, text string) error {
	body, err := json.Marshal(outboundMessage{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway rejected delivery: %s", resp.Status)
	}
	return nil
}
