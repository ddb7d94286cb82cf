package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bluefly-sync/internal/bluefly"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/models"
	"bluefly-sync/internal/shopify"
)

type fakeEnricher struct {
	products    map[int64]*models.EnrichedProduct
	resolutions map[int64]*shopify.InventoryResolution
	enrichCalls []int64
}

func (f *fakeEnricher) GetProductFull(ctx context.Context, productID int64) (*models.EnrichedProduct, error) {
	f.enrichCalls = append(f.enrichCalls, productID)
	if p, ok := f.products[productID]; ok {
		copied := *p
		copied.Variants = append([]models.Variant(nil), p.Variants...)
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: product %d", shopify.ErrNotFound, productID)
}

func (f *fakeEnricher) FindProductByInventoryItem(ctx context.Context, inventoryItemID int64) (*shopify.InventoryResolution, error) {
	if r, ok := f.resolutions[inventoryItemID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: inventory item %d", shopify.ErrNotFound, inventoryItemID)
}

type fakePusher struct {
	productPushes  [][]models.MarketplacePayload
	quantityPushes [][]models.MarketplacePayload
	productResult  bluefly.Result
	quantityResult bluefly.Result
}

func newFakePusher() *fakePusher {
	ok := bluefly.Result{StatusCode: 200, Success: true}
	return &fakePusher{productResult: ok, quantityResult: ok}
}

func (f *fakePusher) PushProducts(ctx context.Context, payloads []models.MarketplacePayload) bluefly.Result {
	f.productPushes = append(f.productPushes, payloads)
	return f.productResult
}

func (f *fakePusher) UpdateQuantityPrice(ctx context.Context, payloads []models.MarketplacePayload) bluefly.Result {
	f.quantityPushes = append(f.quantityPushes, payloads)
	return f.quantityResult
}

type fakeLookup struct {
	fields    map[string]map[string]string
	connects  int
	closes    int
	connected bool
}

func (f *fakeLookup) Connect(ctx context.Context) error {
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeLookup) Close() error {
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeLookup) CategoryFields(ctx context.Context, categoryID, variantTitle string) map[string]string {
	if m, ok := f.fields[categoryID+"|"+variantTitle]; ok {
		return m
	}
	return map[string]string{}
}

type fixture struct {
	processor *Processor
	webhooks  eventlog.WebhookStore
	jobs      eventlog.JobStore
	enricher  *fakeEnricher
	pusher    *fakePusher
	lookup    *fakeLookup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	webhooks, err := eventlog.NewFileWebhookLog(t.TempDir())
	require.NoError(t, err)
	jobs, err := eventlog.NewFileJobLog(t.TempDir())
	require.NoError(t, err)

	enricher := &fakeEnricher{
		products:    map[int64]*models.EnrichedProduct{},
		resolutions: map[int64]*shopify.InventoryResolution{},
	}
	pusher := newFakePusher()
	lookup := &fakeLookup{fields: map[string]map[string]string{}}

	processor := NewProcessor(
		webhooks, jobs, enricher, pusher, lookup,
		filepath.Join(t.TempDir(), "settings.json"),
		"12345",
		zap.NewNop())

	return &fixture{processor, webhooks, jobs, enricher, pusher, lookup}
}

func activeProduct(id int64) *models.EnrichedProduct {
	return &models.EnrichedProduct{
		ID:        fmt.Sprintf("gid://shopify/Product/%d", id),
		NumericID: id,
		Title:     "Test Product",
		Vendor:    "Acme",
		Status:    "ACTIVE",
		Metafields: []models.Metafield{
			{Namespace: "custom", Key: "bluefly_category", Value: "500"},
		},
		Images: []models.Image{
			{URL: fmt.Sprintf("https://cdn.example.com/p/%d.jpg", id)},
		},
		Variants: []models.Variant{
			{
				ID:                fmt.Sprintf("gid://shopify/ProductVariant/%d", id*10),
				SKU:               fmt.Sprintf("SKU-%d", id),
				Price:             "50.00",
				Title:             "Default",
				InventoryQuantity: 5,
			},
		},
	}
}

func appendProductEvent(t *testing.T, store eventlog.WebhookStore, topic string, productID int64, eventID string) string {
	t.Helper()
	handle, err := store.Append(context.Background(), &models.WebhookEvent{
		EventID: eventID,
		Topic:   topic,
		Payload: json.RawMessage(fmt.Sprintf(`{"id": %d}`, productID)),
	})
	require.NoError(t, err)
	return handle
}

func eventStatus(t *testing.T, store eventlog.WebhookStore, handle string) models.EventStatus {
	t.Helper()
	event, err := store.Get(context.Background(), handle)
	require.NoError(t, err)
	return event.Status
}

func singleJob(t *testing.T, jobs eventlog.JobStore, status models.JobStatus) *models.PipelineJob {
	t.Helper()
	found, err := jobs.QueryByStatus(context.Background(), status, "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0].Job
}

func TestProcessBacklogFullPipeline(t *testing.T) {
	f := newFixture(t)
	f.enricher.products[42] = activeProduct(42)
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Errored)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))

	require.Len(t, f.pusher.productPushes, 1)
	require.Len(t, f.pusher.productPushes[0], 1)
	assert.NotEmpty(t, f.pusher.productPushes[0][0].SellerSKU)

	job := singleJob(t, f.jobs, models.JobStatusPushed)
	var trail []models.JobStatus
	for _, s := range job.Stages {
		trail = append(trail, s.Stage)
	}
	assert.Equal(t, []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusEnriching,
		models.JobStatusEnriched,
		models.JobStatusMapping,
		models.JobStatusMapped,
		models.JobStatusPushing,
		models.JobStatusPushed,
	}, trail)
	assert.Empty(t, job.Error)

	assert.Equal(t, 1, f.lookup.connects)
	assert.Equal(t, 1, f.lookup.closes)
}

func TestProcessBacklogDeduplicatesPerProduct(t *testing.T) {
	f := newFixture(t)
	f.enricher.products[42] = activeProduct(42)
	f.enricher.products[7] = activeProduct(7)

	h1 := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")
	h2 := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-2")
	h3 := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-3")
	h4 := appendProductEvent(t, f.webhooks, "products/update", 7, "evt-4")

	summary := f.processor.ProcessBacklog(context.Background())

	// Two superseded, two pushed.
	assert.Equal(t, 4, summary.Processed)
	assert.Zero(t, summary.Errored)

	for _, h := range []string{h1, h2, h3, h4} {
		assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, h))
	}

	// Only the latest event per product reaches enrichment.
	assert.ElementsMatch(t, []int64{42, 7}, f.enricher.enrichCalls)
	assert.Len(t, f.pusher.productPushes, 2)
}

func TestProcessBacklogDeleteTopicSkips(t *testing.T) {
	f := newFixture(t)
	handle := appendProductEvent(t, f.webhooks, "products/delete", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.enricher.enrichCalls)
	assert.Empty(t, f.pusher.productPushes)

	job := singleJob(t, f.jobs, models.JobStatusSkipped)
	last := job.Stages[len(job.Stages)-1]
	assert.Equal(t, "product deleted", last.Data["reason"])
}

func TestProcessBacklogSkipsWithoutCategory(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	product.Metafields = nil
	f.enricher.products[42] = product
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.pusher.productPushes)

	job := singleJob(t, f.jobs, models.JobStatusSkipped)
	last := job.Stages[len(job.Stages)-1]
	assert.Equal(t, "no bluefly_category", last.Data["reason"])
}

func TestProcessBacklogSkipsWithoutImages(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	product.Images = nil
	f.enricher.products[42] = product
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.pusher.productPushes)

	job := singleJob(t, f.jobs, models.JobStatusSkipped)
	last := job.Stages[len(job.Stages)-1]
	assert.Equal(t, "no images", last.Data["reason"])
}

func TestProcessBacklogSkipsWithoutQuantity(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	product.Variants[0].InventoryQuantity = 0
	f.enricher.products[42] = product
	appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, f.pusher.productPushes)

	job := singleJob(t, f.jobs, models.JobStatusSkipped)
	last := job.Stages[len(job.Stages)-1]
	assert.Equal(t, "no sellable quantity", last.Data["reason"])
}

func TestProcessBacklogDelistsInactiveProduct(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	product.Status = "ARCHIVED"
	f.enricher.products[42] = product
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))

	// A once-published product gets a NotLive quantity/price push on the way
	// out; the full products endpoint is never touched.
	assert.Empty(t, f.pusher.productPushes)
	require.Len(t, f.pusher.quantityPushes, 1)
	require.Len(t, f.pusher.quantityPushes[0][0].BuyableProducts, 1)
	assert.Equal(t, models.ListingStatusNotLive, f.pusher.quantityPushes[0][0].BuyableProducts[0].ListingStatus)
}

func TestProcessBacklogEnrichmentNotFoundIsError(t *testing.T) {
	f := newFixture(t)
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, models.EventStatusError, eventStatus(t, f.webhooks, handle))

	job := singleJob(t, f.jobs, models.JobStatusError)
	assert.Contains(t, job.Error, "enrichment failed")
}

func TestProcessBacklogPushFailure(t *testing.T) {
	f := newFixture(t)
	f.enricher.products[42] = activeProduct(42)
	f.pusher.productResult = bluefly.Result{StatusCode: 422, Error: "marketplace returned HTTP 422"}
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, models.EventStatusError, eventStatus(t, f.webhooks, handle))

	job := singleJob(t, f.jobs, models.JobStatusError)
	assert.Contains(t, job.Error, "HTTP 422")
}

func TestProcessBacklogBatchContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	// Product 42 is unknown upstream; product 7 is fine.
	f.enricher.products[7] = activeProduct(7)
	appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")
	appendProductEvent(t, f.webhooks, "products/update", 7, "evt-2")

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, f.pusher.productPushes, 1)
	assert.Equal(t, 1, f.lookup.closes)
}

func TestProcessBacklogInventoryEvent(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	f.enricher.products[42] = product
	f.enricher.resolutions[9001] = &shopify.InventoryResolution{
		ProductID:  42,
		VariantID:  product.Variants[0].ID,
		VariantSKU: product.Variants[0].SKU,
	}

	handle, err := f.webhooks.Append(context.Background(), &models.WebhookEvent{
		EventID: "evt-1",
		Topic:   "inventory_levels/update",
		Payload: json.RawMessage(`{"inventory_item_id": 9001, "available": 99}`),
	})
	require.NoError(t, err)

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.pusher.productPushes)
	require.Len(t, f.pusher.quantityPushes, 1)

	payload := f.pusher.quantityPushes[0][0]
	assert.Empty(t, payload.Fields)
	require.Len(t, payload.BuyableProducts, 1)
	// Webhook quantity overwrites the enriched snapshot for the changed variant.
	assert.Equal(t, 99, payload.BuyableProducts[0].Quantity)
}

func TestProcessBacklogInventoryUnresolvableSkips(t *testing.T) {
	f := newFixture(t)
	handle, err := f.webhooks.Append(context.Background(), &models.WebhookEvent{
		EventID: "evt-1",
		Topic:   "inventory_levels/update",
		Payload: json.RawMessage(`{"inventory_item_id": 9001, "available": 3}`),
	})
	require.NoError(t, err)

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))

	job := singleJob(t, f.jobs, models.JobStatusSkipped)
	last := job.Stages[len(job.Stages)-1]
	assert.Equal(t, "unresolvable inventory item", last.Data["reason"])
}

func TestProcessBacklogInventorySkipsWithoutCategory(t *testing.T) {
	f := newFixture(t)
	product := activeProduct(42)
	product.Metafields = nil
	f.enricher.products[42] = product
	f.enricher.resolutions[9001] = &shopify.InventoryResolution{ProductID: 42}

	handle, err := f.webhooks.Append(context.Background(), &models.WebhookEvent{
		EventID: "evt-1",
		Topic:   "inventory_levels/update",
		Payload: json.RawMessage(`{"inventory_item_id": 9001, "available": 3}`),
	})
	require.NoError(t, err)

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.pusher.quantityPushes)
}

func TestProcessBacklogMalformedPayloadIsRead(t *testing.T) {
	f := newFixture(t)
	handle, err := f.webhooks.Append(context.Background(), &models.WebhookEvent{
		EventID: "evt-1",
		Topic:   "products/update",
		Payload: json.RawMessage(`{"title": "no id here"}`),
	})
	require.NoError(t, err)

	summary := f.processor.ProcessBacklog(context.Background())

	// No product id means no dedup key; the event is marked read and dropped.
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusRead, eventStatus(t, f.webhooks, handle))
}

func TestProcessBacklogNonPipelineTopicIsRead(t *testing.T) {
	f := newFixture(t)
	handle, err := f.webhooks.Append(context.Background(), &models.WebhookEvent{
		EventID: "evt-1",
		Topic:   "orders/create",
		Payload: json.RawMessage(`{"id": 1}`),
	})
	require.NoError(t, err)

	summary := f.processor.ProcessBacklog(context.Background())

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, models.EventStatusRead, eventStatus(t, f.webhooks, handle))
	assert.Empty(t, f.enricher.enrichCalls)
}

func TestProcessBacklogSQLFieldsFlowIntoPayload(t *testing.T) {
	f := newFixture(t)
	f.enricher.products[42] = activeProduct(42)
	f.lookup.fields["500|Default"] = map[string]string{"heel_height": "2in"}
	appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	f.processor.ProcessBacklog(context.Background())

	require.Len(t, f.pusher.productPushes, 1)
	buyable := f.pusher.productPushes[0][0].BuyableProducts[0]
	var found bool
	for _, field := range buyable.Fields {
		if field.Name == "heel_height" {
			found = true
			require.NotNil(t, field.Value)
			assert.Equal(t, "2in", *field.Value)
		}
	}
	assert.True(t, found, "SQL-sourced field missing from buyable")
}

func TestProcessEventSingleHandle(t *testing.T) {
	f := newFixture(t)
	f.enricher.products[42] = activeProduct(42)
	handle := appendProductEvent(t, f.webhooks, "products/update", 42, "evt-1")

	require.NoError(t, f.processor.ProcessEvent(context.Background(), handle))
	assert.Equal(t, models.EventStatusProcessed, eventStatus(t, f.webhooks, handle))
	assert.Len(t, f.pusher.productPushes, 1)

	// A redelivered notice for an already processed event is a no-op.
	require.NoError(t, f.processor.ProcessEvent(context.Background(), handle))
	assert.Len(t, f.pusher.productPushes, 1)
}
