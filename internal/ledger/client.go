package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/javajoker/tunevault-backend/internal/metrics"
)

const maxResponseBytes = 4 << 20

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	BaseURL     string
	APIUser     string
	APIPassword string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
}

// HTTPClient is the Gateway backed by a ledger node's HTTP API.
type HTTPClient struct {
	baseURL     string
	apiUser     string
	apiPassword string
	timeout     time.Duration
	client      *http.Client
	limiter     *rate.Limiter
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiUser:     cfg.APIUser,
		apiPassword: cfg.APIPassword,
		timeout:     timeout,
		client:      &http.Client{},
		limiter:     limiter,
	}
}

func (c *HTTPClient) Call(ctx context.Context, endpoint Endpoint, payload interface{}) Result {
	start := time.Now()
	result := c.call(ctx, endpoint, payload)
	logCall(endpoint, payload, result, time.Since(start))
	return result
}

func (c *HTTPClient) call(ctx context.Context, endpoint Endpoint, payload interface{}) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Failure(KindNetworkUnreachable, fmt.Sprintf("rate limiter: %v", err))
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(KindInvalidResponse, fmt.Sprintf("failed to encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(endpoint), bytes.NewReader(body))
	if err != nil {
		return Failure(KindNetworkUnreachable, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiUser != "" {
		req.SetBasicAuth(c.apiUser, c.apiPassword)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Failure(KindNetworkUnreachable, describeTransportError(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failure(KindNetworkUnreachable, fmt.Sprintf("failed to read response: %v", err))
	}

	return classify(resp.StatusCode, respBody)
}

// classify maps a raw HTTP response onto a Result. A structured error wins
// over the status code because the ledger reports application errors with
// non-2xx statuses as well.
func classify(status int, body []byte) Result {
	if gjson.ValidBytes(body) {
		if apiErr := gjson.GetBytes(body, "error"); apiErr.Exists() && apiErr.Type != gjson.Null {
			message := apiErr.Get("message").String()
			if message == "" {
				message = apiErr.String()
			}
			return Failure(KindRemoteRejected, message)
		}
	}

	if status >= 500 {
		return Failure(KindNetworkUnreachable, fmt.Sprintf("ledger node returned status %d", status))
	}
	if status < 200 || status >= 300 {
		return Failure(KindInvalidResponse, fmt.Sprintf("unexpected status code %d", status))
	}
	if !gjson.ValidBytes(body) {
		return Failure(KindInvalidResponse, "response is not valid JSON")
	}

	result := gjson.GetBytes(body, "result")
	if !result.Exists() || result.Type == gjson.Null {
		return Failure(KindInvalidResponse, "response has no result")
	}
	return Success(json.RawMessage(result.Raw))
}

func describeTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return err.Error()
}

var redactedKeys = map[string]bool{
	"password": true,
	"pin":      true,
	"session":  true,
}

// redact renders a payload for the audit log with credentials masked.
func redact(payload interface{}) map[string]interface{} {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	for key := range fields {
		if redactedKeys[strings.ToLower(key)] {
			fields[key] = "***"
		}
	}
	return fields
}

func logCall(endpoint Endpoint, payload interface{}, result Result, duration time.Duration) {
	outcome := "ok"
	if !result.OK {
		outcome = string(result.Kind)
	}
	metrics.RecordLedgerCall(string(endpoint), outcome, duration)

	entry := logrus.WithFields(logrus.Fields{
		"endpoint": string(endpoint),
		"payload":  redact(payload),
		"outcome":  outcome,
		"duration": duration.Milliseconds(),
	})
	if result.OK {
		entry.Info("Ledger call succeeded")
		return
	}
	entry.WithField("message", result.Message).Warn("Ledger call failed")
}
