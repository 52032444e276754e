// Package messaging wraps the Evolution chat API: text sends, media
// sends and the instance connection probe, with the retry taxonomy the
// dispatch orchestrator relies on.
package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasplcorrea/EnviaFolha/constants"
	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// Client talks to one named instance of the Evolution API.
type Client struct {
	serverURL    string
	apiKey       string
	instanceName string
	textTimeout  time.Duration
	mediaTimeout time.Duration
	probeTimeout time.Duration

	httpClient *http.Client
	policy     BackoffPolicy
	logger     *slog.Logger
}

func NewClient(cfg common.ChannelConfig, policy BackoffPolicy, logger *slog.Logger) *Client {
	if policy.Sleep == nil {
		policy = DefaultBackoff()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:       cfg.APIKey,
		instanceName: cfg.InstanceName,
		textTimeout:  cfg.TextTimeout,
		mediaTimeout: cfg.MediaTimeout,
		probeTimeout: cfg.ProbeTimeout,
		httpClient:   &http.Client{},
		policy:       policy,
		logger:       logger,
	}
}

// Configured reports whether the channel settings are complete. An
// incomplete configuration is a distinct, non-retryable error.
func (c *Client) Configured() error {
	if c.serverURL == "" || c.apiKey == "" || c.instanceName == "" {
		return common.NewAppError("CONFIG_ERROR", "channel configuration incomplete", common.ErrConfig)
	}
	return nil
}

// CheckConnection probes the instance connection state. It never
// returns an error: any failure, including missing configuration, is
// reported as not-connected with a diagnostic.
func (c *Client) CheckConnection(ctx context.Context) (bool, string) {
	if err := c.Configured(); err != nil {
		return false, err.Error()
	}

	url := fmt.Sprintf("%s/instance/connectionState/%s", c.serverURL, c.instanceName)

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false, fmt.Sprintf("connection probe returned status %d", resp.StatusCode)
	}

	var body struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Sprintf("connection probe returned invalid body: %v", err)
	}

	state := body.Instance.State
	c.logger.Info("messaging.connection_state", "instance", c.instanceName, "state", state)
	if state != "open" && state != "connected" {
		return false, fmt.Sprintf("instance state is %q", state)
	}
	return true, state
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	payload := map[string]any{
		"number": number,
		"text":   text,
		"delay":  0,
	}
	url := fmt.Sprintf("%s/message/sendText/%s", c.serverURL, c.instanceName)
	return c.sendWithRetry(ctx, "sendText", url, payload, c.textTimeout)
}

// SendMedia delivers a file as a media message with an optional
// caption. The file is base64-encoded and its MIME type inferred from
// the extension.
func (c *Client) SendMedia(ctx context.Context, number, filePath, caption string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return common.WrapError(err, "read media file")
	}

	payload := map[string]any{
		"number":    number,
		"mediatype": constants.MediaTypeFor(filePath),
		"mimetype":  constants.MIMETypeFor(filePath),
		"caption":   caption,
		"media":     base64.StdEncoding.EncodeToString(raw),
		"fileName":  filepath.Base(filePath),
		"delay":     0,
	}
	url := fmt.Sprintf("%s/message/sendMedia/%s", c.serverURL, c.instanceName)
	return c.sendWithRetry(ctx, "sendMedia", url, payload, c.mediaTimeout)
}

// HasWhatsApp asks the channel whether a number is reachable. Soft
// check: callers treat probe failures as unknown, not as invalid.
func (c *Client) HasWhatsApp(ctx context.Context, number string) (bool, error) {
	payload := map[string]any{"numbers": []string{number}}
	url := fmt.Sprintf("%s/chat/whatsappNumbers/%s", c.serverURL, c.instanceName)

	raw, status, err := c.postJSON(ctx, url, payload, c.textTimeout)
	if err != nil {
		return false, fmt.Errorf("whatsapp probe (status %d): %w", status, err)
	}

	var results []struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(raw, &results); err != nil || len(results) == 0 {
		return false, fmt.Errorf("whatsapp probe returned unexpected body")
	}
	return results[0].Exists, nil
}

// sendWithRetry posts a payload under the backoff policy. Channel-fatal
// and recipient-fatal failures return immediately; retryable classes
// sleep their backoff window and try again up to the attempt bound.
func (c *Client) sendWithRetry(ctx context.Context, op, url string, payload any, timeout time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		raw, status, err := c.postJSON(ctx, url, payload, timeout)
		if err == nil {
			c.logger.Info("messaging.sent", "op", op, "message_id", messageID(raw))
			return nil
		}

		class := classify(status, err)
		if class == failFatal || class == failRecipient {
			return permanent(class, fmt.Errorf("%s: status %d: %w", op, status, err))
		}

		lastErr = fmt.Errorf("%s: status %d: %w", op, status, err)
		if attempt == c.policy.MaxAttempts {
			break
		}

		wait := c.policy.wait(class)
		c.logger.Warn("messaging.retry",
			"op", op,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"status", status,
			"wait", wait.String(),
			"error", err,
		)
		if err := c.policy.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.policy.MaxAttempts, lastErr)
}

// postJSON is the request core: one JSON POST with the apikey header,
// a per-call timeout and request-scoped logging.
func (c *Client) postJSON(ctx context.Context, url string, body any, timeout time.Duration) ([]byte, int, error) {
	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	c.logger.Debug("messaging.http.request",
		"req_id", reqID,
		"url", url,
		"content_length", len(bs),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("messaging.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	c.logger.Debug("messaging.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

// messageID pulls the channel's message id out of a send response.
func messageID(raw []byte) string {
	var body struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Key.ID == "" {
		return "N/A"
	}
	return body.Key.ID
}
