package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wabot/internal/sender"
	logx "wabot/pkg/logx"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

type Config struct {
	// BaseURL is the API root; the per-identity endpoint is
	// {BaseURL}/{phone_id}/messages.
	BaseURL string
	// Timeout bounds a single request.
	Timeout time.Duration
	// RatePerSec caps outbound requests across all identities.
	// 0 disables client-side limiting.
	RatePerSec int
}

// Client talks to the messaging API. One client serves the whole sender
// pool; the identity is picked per call.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
		log:     log,
	}
}

type textBody struct {
	Body string `json:"body"`
}

type templateBody struct {
	Name     string       `json:"name"`
	Language languageBody `json:"language"`
}

type languageBody struct {
	Code string `json:"code"`
}

type imageBody struct {
	Link string `json:"link"`
}

// message is the common request envelope. Exactly one of the typed
// sub-bodies is set, matching Type.
type message struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
	Image            *imageBody    `json:"image,omitempty"`
}

func (c *Client) SendText(ctx context.Context, from sender.Identity, to, body string) error {
	return c.post(ctx, from, message{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

func (c *Client) SendTemplate(ctx context.Context, from sender.Identity, to, name, language string) error {
	return c.post(ctx, from, message{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         &templateBody{Name: name, Language: languageBody{Code: language}},
	})
}

func (c *Client) SendImage(ctx context.Context, from sender.Identity, to, url string) error {
	return c.post(ctx, from, message{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "image",
		Image:            &imageBody{Link: url},
	})
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, from sender.Identity, msg message) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	url := c.base + "/" + from.PhoneID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+from.Token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		// Bounded read; API error bodies are small.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
			return fmt.Errorf("send %s to %s: api error %d (%s): %s",
				msg.Type, msg.To, ae.Error.Code, ae.Error.Type, ae.Error.Message)
		}
		return fmt.Errorf("send %s to %s: http %d", msg.Type, msg.To, resp.StatusCode)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.Debug("message sent",
		logx.String("type", msg.Type),
		logx.String("to", msg.To),
		logx.String("from", from.PhoneID),
		logx.Duration("dur", time.Since(start)),
	)
	return nil
}
