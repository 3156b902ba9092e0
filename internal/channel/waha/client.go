// Package waha drives a WhatsApp HTTP bridge exposing the WAHA REST API and
// adapts it to session.Channel.
package waha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/waybill/internal/config"
)

// Bridge session statuses.
const (
	StatusStopped  = "STOPPED"
	StatusStarting = "STARTING"
	StatusScanQR   = "SCAN_QR_CODE"
	StatusWorking  = "WORKING"
	StatusFailed   = "FAILED"
)

// Config points the client at one bridge session.
type Config struct {
	BaseURL        string
	APIKey         string
	Session        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// ConfigFrom maps the channel section of the file config.
func ConfigFrom(c config.ChannelConfig) Config {
	return Config{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		Session:        c.Session,
		PollInterval:   time.Duration(c.PollIntervalMs) * time.Millisecond,
		RequestTimeout: time.Duration(c.RequestTimeoutSec) * time.Second,
	}
}

// APIError is a non-2xx bridge response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("waha: %s %s: status %d: %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

func statusIs(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.Status == c {
			return true
		}
	}
	return false
}

// Client is a thin REST client for the bridge.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.RequestTimeout}}
}

// Start starts the bridge session. A session that is already running is
// not an error.
func (c *Client) Start(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, c.sessionPath("start"), nil, nil)
	if statusIs(err, http.StatusConflict, http.StatusUnprocessableEntity) {
		return nil
	}
	return err
}

// Status returns the bridge status of the session.
func (c *Client) Status(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(c.cfg.Session), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// QR returns the raw login challenge while the session waits for a scan.
func (c *Client) QR(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	path := "/api/" + url.PathEscape(c.cfg.Session) + "/auth/qr?format=raw"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// SendText sends a text message to chatID.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	body := map[string]any{
		"session": c.cfg.Session,
		"chatId":  chatID,
		"text":    text,
	}
	return c.do(ctx, http.MethodPost, "/api/sendText", body, nil)
}

// SendImage sends an inline image to chatID.
func (c *Client) SendImage(ctx context.Context, chatID, mimeType, filename string, data []byte) error {
	body := map[string]any{
		"session": c.cfg.Session,
		"chatId":  chatID,
		"file": map[string]string{
			"mimetype": mimeType,
			"filename": filename,
			"data":     base64.StdEncoding.EncodeToString(data),
		},
	}
	return c.do(ctx, http.MethodPost, "/api/sendImage", body, nil)
}

// NumberExists reports whether phone (digits only) has an account.
func (c *Client) NumberExists(ctx context.Context, phone string) (bool, error) {
	var out struct {
		NumberExists bool `json:"numberExists"`
	}
	q := url.Values{"phone": {phone}, "session": {c.cfg.Session}}
	if err := c.do(ctx, http.MethodGet, "/api/contacts/check-exists?"+q.Encode(), nil, &out); err != nil {
		return false, err
	}
	return out.NumberExists, nil
}

// Logout unlinks the device from the account.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.sessionPath("logout"), nil, nil)
}

// Stop stops the bridge session. Stopping an unknown session is not an error.
func (c *Client) Stop(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, c.sessionPath("stop"), nil, nil)
	if statusIs(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (c *Client) sessionPath(action string) string {
	return "/api/sessions/" + url.PathEscape(c.cfg.Session) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("waha: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("waha: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("waha: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("waha: decode %s: %w", path, err)
	}
	return nil
}
