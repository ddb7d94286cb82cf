package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bluefly-sync/api/middleware"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/models"
	"bluefly-sync/internal/queue"
	"bluefly-sync/pkg/metrics"
)

type ShopifyWebhookHandler struct {
	logger        *zap.Logger
	store         eventlog.WebhookStore
	publisher     queue.Publisher
	webhookSecret string
}

func NewShopifyWebhookHandler(logger *zap.Logger, store eventlog.WebhookStore, publisher queue.Publisher, webhookSecret string) *ShopifyWebhookHandler {
	return &ShopifyWebhookHandler{
		logger:        logger,
		store:         store,
		publisher:     publisher,
		webhookSecret: webhookSecret,
	}
}

// HandleWebhook receives one Shopify webhook delivery. The contract is
// strict: 401 on a bad signature, 400 on an unreadable body, 200 with an
// empty body once the event is durably logged. Everything downstream is the
// worker's problem.
func (h *ShopifyWebhookHandler) HandleWebhook(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		metrics.WebhookRejected.WithLabelValues("unreadable_body").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	signature := c.GetHeader("X-Shopify-Hmac-Sha256")
	if !middleware.VerifyWebhookHMAC(body, signature, h.webhookSecret) {
		h.logger.Warn("Webhook signature verification failed",
			zap.String("ip", c.ClientIP()),
			zap.String("topic", c.GetHeader("X-Shopify-Topic")))
		metrics.WebhookRejected.WithLabelValues("invalid_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
		return
	}

	if !json.Valid(body) {
		h.logger.Warn("Webhook body is not valid JSON",
			zap.String("topic", c.GetHeader("X-Shopify-Topic")))
		metrics.WebhookRejected.WithLabelValues("invalid_json").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	topic := c.GetHeader("X-Shopify-Topic")
	shopDomain := c.GetHeader("X-Shopify-Shop-Domain")
	eventID := c.GetHeader("X-Shopify-Event-Id")
	if eventID == "" {
		eventID = uuid.New().String()
	}

	// Unknown topics are logged anyway; the worker decides what to do with
	// them. Blocking here would drop data on any allow-list drift.
	if !models.AllowedTopics[topic] {
		h.logger.Warn("Webhook topic not in allow-list",
			zap.String("topic", topic),
			zap.String("shop_domain", shopDomain))
	}

	event := &models.WebhookEvent{
		EventID:    eventID,
		Topic:      topic,
		ShopDomain: shopDomain,
		Payload:    body,
	}

	handle, err := h.store.Append(c.Request.Context(), event)
	if err != nil {
		h.logger.Error("Failed to log webhook event",
			zap.String("topic", topic),
			zap.String("event_id", eventID),
			zap.Error(err))
		metrics.WebhookRejected.WithLabelValues("log_failure").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist event"})
		return
	}

	// The hand-off notice is best effort. The event is already durable; a
	// publish failure only delays processing until the next sweep.
	notice := queue.EventNotice{Handle: handle, Topic: topic, EventID: eventID}
	if payload, ok := productID(body); ok {
		notice.ProductID = payload
	}
	if err := h.publisher.PublishEventLogged(notice); err != nil {
		h.logger.Warn("Failed to publish hand-off notice",
			zap.String("handle", handle),
			zap.Error(err))
	}

	metrics.WebhookReceived.WithLabelValues(topic).Inc()
	h.logger.Info("Webhook logged",
		zap.String("topic", topic),
		zap.String("event_id", eventID),
		zap.String("handle", handle),
		zap.Duration("duration", time.Since(start)))

	c.Status(http.StatusOK)
}

func productID(body []byte) (int64, bool) {
	var payload models.ProductPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID == 0 {
		return 0, false
	}
	return payload.ID, true
}
