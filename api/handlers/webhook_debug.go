package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/queue"
)

// DebugShopifyWebhookHandler wraps the production handler and additionally
// dumps each raw request to disk for troubleshooting delivery problems.
// Enabled with WEBHOOK_DEBUG=true; never run in production, the dumps are
// unverified input.
type DebugShopifyWebhookHandler struct {
	*ShopifyWebhookHandler
	dumpDir string
}

type rawWebhookDump struct {
	Timestamp time.Time           `json:"timestamp"`
	Method    string              `json:"method"`
	Headers   map[string][]string `json:"headers"`
	Body      json.RawMessage     `json:"body"`
	RemoteIP  string              `json:"remote_ip"`
}

func NewDebugShopifyWebhookHandler(logger *zap.Logger, store eventlog.WebhookStore, publisher queue.Publisher, webhookSecret string) *DebugShopifyWebhookHandler {
	dumpDir := os.Getenv("WEBHOOK_DEBUG_DIR")
	if dumpDir == "" {
		dumpDir = "webhook_debug"
	}
	return &DebugShopifyWebhookHandler{
		ShopifyWebhookHandler: NewShopifyWebhookHandler(logger, store, publisher, webhookSecret),
		dumpDir:               dumpDir,
	}
}

func (h *DebugShopifyWebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		h.dump(c, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	h.ShopifyWebhookHandler.HandleWebhook(c)
}

func (h *DebugShopifyWebhookHandler) dump(c *gin.Context, body []byte) {
	if err := os.MkdirAll(h.dumpDir, 0o755); err != nil {
		h.logger.Warn("Failed to create debug dump dir", zap.Error(err))
		return
	}

	dump := rawWebhookDump{
		Timestamp: time.Now().UTC(),
		Method:    c.Request.Method,
		Headers:   c.Request.Header,
		RemoteIP:  c.ClientIP(),
	}
	if json.Valid(body) {
		dump.Body = body
	}

	name := fmt.Sprintf("webhook_%s.json", dump.Timestamp.Format("20060102T150405.000000000Z"))
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(h.dumpDir, name), data, 0o644); err != nil {
		h.logger.Warn("Failed to write debug dump", zap.Error(err))
	}
}
