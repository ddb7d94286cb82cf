// Package worker runs logged webhook events through the sync pipeline:
// enrich from Shopify, map to the marketplace payload shape, push.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bluefly-sync/internal/bluefly"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/mapper"
	"bluefly-sync/internal/models"
	"bluefly-sync/internal/settings"
	"bluefly-sync/internal/shopify"
	"bluefly-sync/pkg/metrics"
)

// Enricher is the Shopify read side of the pipeline.
type Enricher interface {
	GetProductFull(ctx context.Context, productID int64) (*models.EnrichedProduct, error)
	FindProductByInventoryItem(ctx context.Context, inventoryItemID int64) (*shopify.InventoryResolution, error)
}

// Pusher is the marketplace write side.
type Pusher interface {
	PushProducts(ctx context.Context, payloads []models.MarketplacePayload) bluefly.Result
	UpdateQuantityPrice(ctx context.Context, payloads []models.MarketplacePayload) bluefly.Result
}

// CategoryLookup supplies per-variant field overrides from the mapping
// database. Connect and Close bracket a sweep.
type CategoryLookup interface {
	Connect(ctx context.Context) error
	Close() error
	CategoryFields(ctx context.Context, categoryID, variantTitle string) map[string]string
}

type Processor struct {
	webhooks     eventlog.WebhookStore
	jobs         eventlog.JobStore
	enricher     Enricher
	pusher       Pusher
	lookup       CategoryLookup
	settingsPath string
	sellerID     string
	logger       *zap.Logger
}

func NewProcessor(
	webhooks eventlog.WebhookStore,
	jobs eventlog.JobStore,
	enricher Enricher,
	pusher Pusher,
	lookup CategoryLookup,
	settingsPath string,
	sellerID string,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		webhooks:     webhooks,
		jobs:         jobs,
		enricher:     enricher,
		pusher:       pusher,
		lookup:       lookup,
		settingsPath: settingsPath,
		sellerID:     sellerID,
		logger:       logger,
	}
}

// Summary counts the terminal outcomes of one sweep.
type Summary struct {
	Processed int
	Errored   int
	Skipped   int
}

func isProductTopic(topic string) bool {
	return strings.HasPrefix(topic, "products/")
}

func isInventoryTopic(topic string) bool {
	return strings.HasPrefix(topic, "inventory_levels/")
}

// ProcessBacklog sweeps every unread event. Superseded events for the same
// product collapse to the newest delivery; older ones are marked processed
// without a pipeline run. One failing event never stops the sweep.
func (p *Processor) ProcessBacklog(ctx context.Context) Summary {
	var summary Summary

	events, err := p.webhooks.QueryByStatus(ctx, models.EventStatusUnread, "")
	if err != nil {
		p.logger.Error("Failed to query unread backlog", zap.Error(err))
		return summary
	}
	metrics.UnreadBacklog.Set(float64(len(events)))
	if len(events) == 0 {
		return summary
	}

	p.logger.Info("Sweeping unread backlog", zap.Int("events", len(events)))

	if err := p.lookup.Connect(ctx); err != nil {
		p.logger.Warn("Category lookup unavailable for this sweep", zap.Error(err))
	}
	defer p.lookup.Close()

	for _, ev := range p.dedupe(ctx, events, &summary) {
		if ctx.Err() != nil {
			return summary
		}
		p.runEvent(ctx, ev, &summary)
	}
	return summary
}

// ProcessEvent handles a single event by handle, the path taken for broker
// hand-off notices. Already-claimed events are a no-op so a redelivered
// notice and a concurrent sweep cannot double-process.
func (p *Processor) ProcessEvent(ctx context.Context, handle string) error {
	event, err := p.webhooks.Get(ctx, handle)
	if err != nil {
		return err
	}
	if event.Status != models.EventStatusUnread {
		p.logger.Debug("Event already claimed, skipping",
			zap.String("handle", handle),
			zap.String("status", string(event.Status)))
		return nil
	}

	if err := p.lookup.Connect(ctx); err != nil {
		p.logger.Warn("Category lookup unavailable", zap.Error(err))
	}
	defer p.lookup.Close()

	var summary Summary
	p.runEvent(ctx, eventlog.StoredEvent{Handle: handle, Event: event}, &summary)
	if summary.Errored > 0 {
		return fmt.Errorf("event %s ended in error", handle)
	}
	return nil
}

// dedupe keeps only the newest unread event per product (and per inventory
// item) and marks the superseded ones processed. Non-pipeline topics are
// marked read and dropped here.
func (p *Processor) dedupe(ctx context.Context, events []eventlog.StoredEvent, summary *Summary) []eventlog.StoredEvent {
	latest := map[string]eventlog.StoredEvent{}
	var order []string

	for _, ev := range events {
		key, ok := p.dedupeKey(ev.Event)
		if !ok {
			if _, err := p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusRead); err != nil {
				p.logger.Warn("Failed to mark event read", zap.String("handle", ev.Handle), zap.Error(err))
			}
			summary.Skipped++
			continue
		}

		prev, seen := latest[key]
		if !seen {
			latest[key] = ev
			order = append(order, key)
			continue
		}

		// Timestamps are ISO-8601 UTC, so string order is time order.
		superseded := prev
		if ev.Event.Timestamp > prev.Event.Timestamp {
			latest[key] = ev
		} else {
			superseded = ev
		}
		if _, err := p.webhooks.UpdateStatus(ctx, superseded.Handle, models.EventStatusProcessed); err != nil {
			p.logger.Warn("Failed to retire superseded event",
				zap.String("handle", superseded.Handle), zap.Error(err))
		} else {
			p.logger.Info("Superseded by newer event",
				zap.String("handle", superseded.Handle),
				zap.String("key", key))
		}
		summary.Processed++
	}

	result := make([]eventlog.StoredEvent, 0, len(order))
	for _, key := range order {
		result = append(result, latest[key])
	}
	return result
}

func (p *Processor) dedupeKey(event *models.WebhookEvent) (string, bool) {
	switch {
	case isProductTopic(event.Topic):
		var payload models.ProductPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ID == 0 {
			return "", false
		}
		return fmt.Sprintf("product:%d", payload.ID), true
	case isInventoryTopic(event.Topic):
		var payload models.InventoryPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.InventoryItemID == 0 {
			return "", false
		}
		return fmt.Sprintf("inventory:%d", payload.InventoryItemID), true
	default:
		return "", false
	}
}

func (p *Processor) runEvent(ctx context.Context, ev eventlog.StoredEvent, summary *Summary) {
	start := time.Now()
	topic := ev.Event.Topic
	defer func() {
		metrics.PipelineJobDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch {
	case isProductTopic(topic):
		err = p.processProductEvent(ctx, ev, summary)
	case isInventoryTopic(topic):
		err = p.processInventoryEvent(ctx, ev, summary)
	default:
		_, err = p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusRead)
		summary.Skipped++
	}
	if err != nil {
		p.logger.Error("Pipeline run failed",
			zap.String("handle", ev.Handle),
			zap.String("topic", topic),
			zap.Error(err))
	}
}

func (p *Processor) processProductEvent(ctx context.Context, ev eventlog.StoredEvent, summary *Summary) error {
	var payload models.ProductPayload
	if err := json.Unmarshal(ev.Event.Payload, &payload); err != nil || payload.ID == 0 {
		p.failEvent(ctx, ev.Handle)
		summary.Errored++
		return fmt.Errorf("product payload without id: %v", err)
	}

	if _, err := p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusProcessing); err != nil {
		summary.Errored++
		return err
	}

	jobHandle, err := p.jobs.CreateJob(ctx, ev.Handle, ev.Event.Topic, payload.ID, ev.Event.EventID)
	if err != nil {
		p.failEvent(ctx, ev.Handle)
		summary.Errored++
		return err
	}

	if ev.Event.Topic == "products/delete" {
		return p.skip(ctx, ev, jobHandle, "product deleted", summary)
	}

	product, metafields, err := p.enrich(ctx, ev, jobHandle, payload.ID, summary)
	if err != nil {
		return err
	}

	cfg := settings.Load(p.settingsPath)

	if !mapper.ShouldSync(product) {
		p.delistIfPublished(ctx, product, metafields)
		return p.skip(ctx, ev, jobHandle, "status: "+product.Status, summary)
	}
	category := models.GetMetafield(metafields, "custom", "bluefly_category")
	if cfg.Eligibility.RequireCategory && category == "" {
		return p.skip(ctx, ev, jobHandle, "no bluefly_category", summary)
	}
	if cfg.Eligibility.RequireImages && len(product.Images) == 0 && !variantsHaveImages(product) {
		return p.skip(ctx, ev, jobHandle, "no images", summary)
	}
	if cfg.Eligibility.RequireQuantity && totalQuantity(product) <= 0 {
		return p.skip(ctx, ev, jobHandle, "no sellable quantity", summary)
	}

	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusMapping, nil, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}
	sqlFieldMap := make(map[string]map[string]string, len(product.Variants))
	for _, variant := range product.Variants {
		sqlFieldMap[variant.Title] = p.lookup.CategoryFields(ctx, category, variant.Title)
	}
	marketplacePayload := mapper.BuildFullPayload(product, metafields, sqlFieldMap, cfg, p.sellerID)
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusMapped, map[string]any{
		"seller_sku":    marketplacePayload.SellerSKU,
		"buyable_count": len(marketplacePayload.BuyableProducts),
		"endpoint":      "products",
	}, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}

	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusPushing, nil, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}
	result := p.pusher.PushProducts(ctx, []models.MarketplacePayload{marketplacePayload})
	metrics.MarketplacePush.WithLabelValues("products", fmt.Sprint(result.StatusCode)).Inc()
	if !result.Success {
		return p.fail(ctx, ev, jobHandle, fmt.Errorf("push failed: %s", result.Error), summary)
	}

	return p.finish(ctx, ev, jobHandle, result.StatusCode, summary)
}

func variantsHaveImages(product *models.EnrichedProduct) bool {
	for _, variant := range product.Variants {
		if variant.Image != nil {
			return true
		}
	}
	return false
}

func totalQuantity(product *models.EnrichedProduct) int {
	total := 0
	for _, variant := range product.Variants {
		total += variant.InventoryQuantity
	}
	return total
}

// Inventory events carry no image or quantity gates: a drop to zero stock must
// still reach the marketplace so the listing stops selling.
func (p *Processor) processInventoryEvent(ctx context.Context, ev eventlog.StoredEvent, summary *Summary) error {
	var payload models.InventoryPayload
	if err := json.Unmarshal(ev.Event.Payload, &payload); err != nil || payload.InventoryItemID == 0 {
		p.failEvent(ctx, ev.Handle)
		summary.Errored++
		return fmt.Errorf("inventory payload without inventory_item_id: %v", err)
	}

	if _, err := p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusProcessing); err != nil {
		summary.Errored++
		return err
	}

	resolution, err := p.enricher.FindProductByInventoryItem(ctx, payload.InventoryItemID)
	if err != nil {
		jobHandle, jobErr := p.jobs.CreateJob(ctx, ev.Handle, ev.Event.Topic, 0, ev.Event.EventID)
		if jobErr != nil {
			p.failEvent(ctx, ev.Handle)
			summary.Errored++
			return jobErr
		}
		if errors.Is(err, shopify.ErrNotFound) {
			return p.skip(ctx, ev, jobHandle, "unresolvable inventory item", summary)
		}
		return p.fail(ctx, ev, jobHandle, err, summary)
	}

	jobHandle, err := p.jobs.CreateJob(ctx, ev.Handle, ev.Event.Topic, resolution.ProductID, ev.Event.EventID)
	if err != nil {
		p.failEvent(ctx, ev.Handle)
		summary.Errored++
		return err
	}

	product, metafields, err := p.enrich(ctx, ev, jobHandle, resolution.ProductID, summary)
	if err != nil {
		return err
	}

	cfg := settings.Load(p.settingsPath)

	if !mapper.ShouldSync(product) {
		p.delistIfPublished(ctx, product, metafields)
		return p.skip(ctx, ev, jobHandle, "status: "+product.Status, summary)
	}
	if cfg.Eligibility.RequireCategory &&
		models.GetMetafield(metafields, "custom", "bluefly_category") == "" {
		return p.skip(ctx, ev, jobHandle, "no bluefly_category", summary)
	}

	// The webhook's quantity is fresher than the enriched snapshot for the
	// variant that changed. Only that variant is overwritten.
	for i := range product.Variants {
		if product.Variants[i].ID == resolution.VariantID ||
			(resolution.VariantSKU != "" && product.Variants[i].SKU == resolution.VariantSKU) {
			product.Variants[i].InventoryQuantity = payload.Available
			break
		}
	}

	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusMapping, nil, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}
	marketplacePayload := mapper.BuildQuantityPricePayload(product, metafields, cfg, p.sellerID)
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusMapped, map[string]any{
		"seller_sku":    marketplacePayload.SellerSKU,
		"buyable_count": len(marketplacePayload.BuyableProducts),
		"endpoint":      "quantityprice",
	}, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}

	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusPushing, nil, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}
	result := p.pusher.UpdateQuantityPrice(ctx, []models.MarketplacePayload{marketplacePayload})
	metrics.MarketplacePush.WithLabelValues("quantityprice", fmt.Sprint(result.StatusCode)).Inc()
	if !result.Success {
		return p.fail(ctx, ev, jobHandle, fmt.Errorf("push failed: %s", result.Error), summary)
	}

	return p.finish(ctx, ev, jobHandle, result.StatusCode, summary)
}

// enrich fetches the full product and records the enriching/enriched stages.
// A nil product return means the job already ended and the caller must stop.
func (p *Processor) enrich(ctx context.Context, ev eventlog.StoredEvent, jobHandle string, productID int64, summary *Summary) (*models.EnrichedProduct, []models.Metafield, error) {
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusEnriching, nil, ""); err != nil {
		return nil, nil, p.fail(ctx, ev, jobHandle, err, summary)
	}

	product, err := p.enricher.GetProductFull(ctx, productID)
	if err != nil {
		return nil, nil, p.fail(ctx, ev, jobHandle, fmt.Errorf("enrichment failed: %w", err), summary)
	}

	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusEnriched, map[string]any{
		"title":           product.Title,
		"variant_count":   len(product.Variants),
		"metafield_count": len(product.Metafields),
	}, ""); err != nil {
		return nil, nil, p.fail(ctx, ev, jobHandle, err, summary)
	}

	return product, product.Metafields, nil
}

// delistIfPublished pushes a NotLive quantity/price update for a product that
// was live on the marketplace but is no longer active in Shopify. Failures
// only log; the event still ends as skipped.
func (p *Processor) delistIfPublished(ctx context.Context, product *models.EnrichedProduct, metafields []models.Metafield) {
	if models.GetMetafield(metafields, "custom", "bluefly_category") == "" {
		return
	}
	cfg := settings.Load(p.settingsPath)
	payload := mapper.BuildQuantityPricePayload(product, metafields, cfg, p.sellerID)

	result := p.pusher.UpdateQuantityPrice(ctx, []models.MarketplacePayload{payload})
	metrics.MarketplacePush.WithLabelValues("quantityprice", fmt.Sprint(result.StatusCode)).Inc()
	if !result.Success {
		p.logger.Warn("Delist push failed",
			zap.String("seller_sku", payload.SellerSKU),
			zap.String("error", result.Error))
		return
	}
	p.logger.Info("Delisted inactive product",
		zap.String("seller_sku", payload.SellerSKU),
		zap.String("status", product.Status))
}

func (p *Processor) skip(ctx context.Context, ev eventlog.StoredEvent, jobHandle, reason string, summary *Summary) error {
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusSkipped, map[string]any{"reason": reason}, ""); err != nil {
		p.logger.Warn("Failed to record skip stage", zap.String("job", jobHandle), zap.Error(err))
	}
	if _, err := p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusProcessed); err != nil {
		summary.Errored++
		return err
	}
	metrics.PipelineJobs.WithLabelValues(ev.Event.Topic, "skipped").Inc()
	summary.Skipped++
	p.logger.Info("Event skipped",
		zap.String("handle", ev.Handle),
		zap.String("reason", reason))
	return nil
}

func (p *Processor) finish(ctx context.Context, ev eventlog.StoredEvent, jobHandle string, statusCode int, summary *Summary) error {
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusPushed, map[string]any{"status_code": statusCode}, ""); err != nil {
		return p.fail(ctx, ev, jobHandle, err, summary)
	}
	if _, err := p.webhooks.UpdateStatus(ctx, ev.Handle, models.EventStatusProcessed); err != nil {
		summary.Errored++
		return err
	}
	metrics.PipelineJobs.WithLabelValues(ev.Event.Topic, "pushed").Inc()
	summary.Processed++
	p.logger.Info("Event processed", zap.String("handle", ev.Handle), zap.String("job", jobHandle))
	return nil
}

// fail records the error stage on the job, flips the event to error, and
// returns pipelineErr so the caller can log it.
func (p *Processor) fail(ctx context.Context, ev eventlog.StoredEvent, jobHandle string, pipelineErr error, summary *Summary) error {
	if _, err := p.jobs.AppendStage(ctx, jobHandle, models.JobStatusError, nil, pipelineErr.Error()); err != nil {
		p.logger.Warn("Failed to record error stage", zap.String("job", jobHandle), zap.Error(err))
	}
	p.failEvent(ctx, ev.Handle)
	metrics.PipelineJobs.WithLabelValues(ev.Event.Topic, "error").Inc()
	summary.Errored++
	return pipelineErr
}

func (p *Processor) failEvent(ctx context.Context, handle string) {
	if _, err := p.webhooks.UpdateStatus(ctx, handle, models.EventStatusError); err != nil {
		p.logger.Warn("Failed to mark event errored", zap.String("handle", handle), zap.Error(err))
	}
}
