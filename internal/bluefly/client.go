// Package bluefly is the client for the Bluefly marketplace seller API.
package bluefly

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

	"go.uber.org/zap"

	"bluefly-sync/internal/models"
)

const (
	defaultMaxRetries   = 3
	defaultPollInterval = 3 * time.Second
	defaultMaxPolls     = 10
)

var ErrPollTimeout = errors.New("bluefly: async result still pending after poll budget")

type Client struct {
	apiURL           string
	quantityPriceURL string
	sellerID         string
	sellerToken      string

	postClient *http.Client
	getClient  *http.Client

	maxRetries   int
	backoffUnit  time.Duration
	pollInterval time.Duration
	maxPolls     int

	logger *zap.Logger
}

func NewClient(apiURL, sellerID, sellerToken string, logger *zap.Logger) *Client {
	return &Client{
		apiURL:           strings.TrimRight(apiURL, "/"),
		quantityPriceURL: strings.TrimRight(apiURL, "/") + "/quantityprice",
		sellerID:         sellerID,
		sellerToken:      sellerToken,
		postClient:       &http.Client{Timeout: 30 * time.Second},
		getClient:        &http.Client{Timeout: 60 * time.Second},
		maxRetries:       defaultMaxRetries,
		backoffUnit:      time.Second,
		pollInterval:     defaultPollInterval,
		maxPolls:         defaultMaxPolls,
		logger:           logger,
	}
}

// Result carries the marketplace response back to the pipeline. Success is
// true only for a 2xx terminal response.
type Result struct {
	StatusCode int
	Body       string
	Data       any
	Success    bool
	Error      string
}

// asyncEnvelope is the shape the API returns while a request is being
// processed out of band.
type asyncEnvelope struct {
	Status       string          `json:"Status"`
	PendingUri   string          `json:"PendingUri"`
	ResponseBody json.RawMessage `json:"ResponseBody"`
	Errors       []struct {
		Message string `json:"Message"`
	} `json:"Errors"`
}

// PushProducts sends full product payloads to the products endpoint.
func (c *Client) PushProducts(ctx context.Context, payloads []models.MarketplacePayload) Result {
	return c.post(ctx, c.apiURL, payloads)
}

// UpdateQuantityPrice sends lightweight quantity and price updates.
func (c *Client) UpdateQuantityPrice(ctx context.Context, payloads []models.MarketplacePayload) Result {
	return c.post(ctx, c.quantityPriceURL, payloads)
}

func (c *Client) post(ctx context.Context, url string, payloads []models.MarketplacePayload) Result {
	body, err := json.Marshal(payloads)
	if err != nil {
		return Result{Error: fmt.Sprintf("encoding payload: %v", err)}
	}

	var last Result
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * c.backoffUnit
			c.logger.Warn("Bluefly push retry",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", last.StatusCode),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				last.Error = ctx.Err().Error()
				return last
			case <-time.After(delay):
			}
		}

		last = c.doPost(ctx, url, body)
		if last.Success || !retryableStatus(last.StatusCode) {
			return last
		}
	}
	return last
}

func (c *Client) doPost(ctx context.Context, url string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.postClient.Do(req)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Error: err.Error()}
	}

	result := Result{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if len(raw) > 0 {
		var data any
		if json.Unmarshal(raw, &data) == nil {
			result.Data = data
		}
	}
	if !result.Success {
		result.Error = fmt.Sprintf("marketplace returned HTTP %d", resp.StatusCode)
	}
	return result
}

// GetCatalog fetches the seller catalog. The endpoint answers asynchronously:
// a pending envelope names a PendingUri to poll until Status flips to
// Complete, the envelope reports Errors, or the data arrives as a plain list.
func (c *Client) GetCatalog(ctx context.Context) Result {
	raw, status, err := c.get(ctx, c.apiURL)
	if err != nil {
		return Result{StatusCode: status, Error: err.Error()}
	}

	pollURL := c.apiURL
	for poll := 0; poll <= c.maxPolls; poll++ {
		result, next, done := c.resolveCatalogResponse(raw, status)
		if done {
			return result
		}
		if next != "" {
			pollURL = next
		}

		if err := c.sleep(ctx); err != nil {
			return Result{Error: err.Error()}
		}
		raw, status, err = c.get(ctx, pollURL)
		if err != nil {
			return Result{StatusCode: status, Error: err.Error()}
		}
	}
	return Result{StatusCode: status, Error: ErrPollTimeout.Error()}
}

// resolveCatalogResponse inspects one polling response. done=false means the
// request is still pending and next (when set) replaces the poll URI.
func (c *Client) resolveCatalogResponse(raw []byte, status int) (result Result, next string, done bool) {
	var envelope asyncEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// A JSON array is the final catalog directly.
		var list []any
		if json.Unmarshal(raw, &list) == nil {
			return Result{StatusCode: status, Body: string(raw), Data: list, Success: true}, "", true
		}
		return Result{StatusCode: status, Body: string(raw), Error: "unrecognized catalog response"}, "", true
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return Result{StatusCode: status, Body: string(raw), Error: strings.Join(msgs, "; ")}, "", true
	}

	switch envelope.Status {
	case "Complete":
		result := Result{StatusCode: status, Body: string(envelope.ResponseBody), Success: true}
		var data any
		if json.Unmarshal(envelope.ResponseBody, &data) == nil {
			result.Data = data
		}
		return result, "", true
	case "AsyncResponsePending":
		return Result{}, envelope.PendingUri, false
	default:
		return Result{StatusCode: status, Body: string(raw), Data: envelopeAsAny(raw), Success: true}, "", true
	}
}

func envelopeAsAny(raw []byte) any {
	var data any
	if json.Unmarshal(raw, &data) == nil {
		return data
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req)

	resp, err := c.getClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("marketplace returned HTTP %d: %s", resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("sellerid", c.sellerID)
	req.Header.Set("sellertoken", c.sellerToken)
}

func (c *Client) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.pollInterval):
		return nil
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
