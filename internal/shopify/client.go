// Package shopify is the enrichment client for the Shopify GraphQL Admin API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bluefly-sync/internal/models"
)

type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewClient(store, accessToken, apiVersion string, logger *zap.Logger) *Client {
	if apiVersion == "" {
		apiVersion = "2025-01"
	}
	return &Client{
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", store, apiVersion),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// graphql executes one query with the transient-failure retry policy: 429
// honors Retry-After, 5xx backs off exponentially, other 4xx propagate
// immediately, and spending the whole budget raises ErrRetriesExhausted.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := c.post(ctx, payload)
		if err == nil {
			var resp graphQLResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("shopify: decoding response: %w", err)
			}
			if len(resp.Errors) > 0 {
				msgs := make([]string, 0, len(resp.Errors))
				for _, e := range resp.Errors {
					msgs = append(msgs, e.Message)
				}
				return fmt.Errorf("shopify graphql errors: %s", strings.Join(msgs, "; "))
			}
			if out == nil {
				return nil
			}
			return json.Unmarshal(resp.Data, out)
		}

		if !isRetryable(err) {
			return err
		}
		lastErr = err
		delay := retryDelay(err, attempt)
		c.logger.Warn("Shopify transient error, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPStatusError(resp, body)
	}
	return body, nil
}

// Metafield aliases fetched as direct lookups alongside the generic
// connection. Aliased fetches still work for metafields that lack a formal
// definition on the store.
var directMetafieldAliases = []string{
	"bluefly_category",
	"sub_category",
	"gender",
	"country_of_origin",
	"care_instructions",
	"color",
	"size_notes",
}

const productFullQuery = `
query getProduct($id: ID!) {
  product(id: $id) {
    id
    title
    vendor
    descriptionHtml
    productType
    status
    tags
    metafields(first: 20) {
      edges { node { namespace key value type } }
    }
    bluefly_category: metafield(namespace: "custom", key: "bluefly_category") { namespace key value type }
    sub_category: metafield(namespace: "custom", key: "sub_category") { namespace key value type }
    gender: metafield(namespace: "custom", key: "gender") { namespace key value type }
    country_of_origin: metafield(namespace: "custom", key: "country_of_origin") { namespace key value type }
    care_instructions: metafield(namespace: "custom", key: "care_instructions") { namespace key value type }
    color: metafield(namespace: "custom", key: "color") { namespace key value type }
    size_notes: metafield(namespace: "custom", key: "size_notes") { namespace key value type }
    images(first: 10) {
      edges { node { url altText } }
    }
    variants(first: 100) {
      edges {
        node {
          id
          sku
          price
          compareAtPrice
          barcode
          title
          inventoryQuantity
          selectedOptions { name value }
          image { url altText }
          inventoryItem {
            id
            measurement { weight { value unit } }
          }
        }
      }
    }
  }
}`

type metafieldNode struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type productFullData struct {
	Product *struct {
		ID              string   `json:"id"`
		Title           string   `json:"title"`
		Vendor          string   `json:"vendor"`
		DescriptionHTML string   `json:"descriptionHtml"`
		ProductType     string   `json:"productType"`
		Status          string   `json:"status"`
		Tags            []string `json:"tags"`
		Metafields      struct {
			Edges []struct {
				Node metafieldNode `json:"node"`
			} `json:"edges"`
		} `json:"metafields"`
		BlueflyCategory *metafieldNode `json:"bluefly_category"`
		SubCategory     *metafieldNode `json:"sub_category"`
		Gender          *metafieldNode `json:"gender"`
		CountryOfOrigin *metafieldNode `json:"country_of_origin"`
		CareInstruction *metafieldNode `json:"care_instructions"`
		Color           *metafieldNode `json:"color"`
		SizeNotes       *metafieldNode `json:"size_notes"`
		Images          struct {
			Edges []struct {
				Node models.Image `json:"node"`
			} `json:"edges"`
		} `json:"images"`
		Variants struct {
			Edges []struct {
				Node variantNode `json:"node"`
			} `json:"edges"`
		} `json:"variants"`
	} `json:"product"`
}

type variantNode struct {
	ID                string                  `json:"id"`
	SKU               string                  `json:"sku"`
	Price             string                  `json:"price"`
	CompareAtPrice    string                  `json:"compareAtPrice"`
	Barcode           string                  `json:"barcode"`
	Title             string                  `json:"title"`
	InventoryQuantity int                     `json:"inventoryQuantity"`
	SelectedOptions   []models.SelectedOption `json:"selectedOptions"`
	Image             *models.Image           `json:"image"`
	InventoryItem     *struct {
		ID          string `json:"id"`
		Measurement *struct {
			Weight *struct {
				Value float64 `json:"value"`
				Unit  string  `json:"unit"`
			} `json:"weight"`
		} `json:"measurement"`
	} `json:"inventoryItem"`
}

// GetProductFull fetches one product by numeric id with metafields, images
// and variants, flattened into the in-memory EnrichedProduct shape.
func (c *Client) GetProductFull(ctx context.Context, productID int64) (*models.EnrichedProduct, error) {
	gid := fmt.Sprintf("gid://shopify/Product/%d", productID)

	var data productFullData
	if err := c.graphql(ctx, productFullQuery, map[string]any{"id": gid}, &data); err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}

	p := data.Product
	product := &models.EnrichedProduct{
		ID:              p.ID,
		NumericID:       productID,
		Title:           p.Title,
		Vendor:          p.Vendor,
		DescriptionHTML: p.DescriptionHTML,
		ProductType:     p.ProductType,
		Status:          p.Status,
		Tags:            p.Tags,
	}

	// Merge the generic metafield connection with the aliased direct
	// lookups, keeping the first-seen (namespace, key) pair.
	seen := map[[2]string]bool{}
	for _, e := range p.Metafields.Edges {
		n := e.Node
		product.Metafields = append(product.Metafields, models.Metafield(n))
		seen[[2]string{n.Namespace, n.Key}] = true
	}
	for _, direct := range []*metafieldNode{
		p.BlueflyCategory, p.SubCategory, p.Gender, p.CountryOfOrigin,
		p.CareInstruction, p.Color, p.SizeNotes,
	} {
		if direct == nil || direct.Value == "" {
			continue
		}
		key := [2]string{direct.Namespace, direct.Key}
		if !seen[key] {
			product.Metafields = append(product.Metafields, models.Metafield(*direct))
			seen[key] = true
		}
	}

	for _, e := range p.Images.Edges {
		product.Images = append(product.Images, e.Node)
	}

	for _, e := range p.Variants.Edges {
		n := e.Node
		variant := models.Variant{
			ID:                n.ID,
			SKU:               n.SKU,
			Price:             n.Price,
			CompareAtPrice:    n.CompareAtPrice,
			Barcode:           n.Barcode,
			Title:             n.Title,
			InventoryQuantity: n.InventoryQuantity,
			SelectedOptions:   n.SelectedOptions,
			Image:             n.Image,
			WeightUnit:        "POUNDS",
		}
		if n.InventoryItem != nil && n.InventoryItem.Measurement != nil && n.InventoryItem.Measurement.Weight != nil {
			w := n.InventoryItem.Measurement.Weight
			value := w.Value
			variant.Weight = &value
			if w.Unit != "" {
				variant.WeightUnit = w.Unit
			}
		}
		product.Variants = append(product.Variants, variant)
	}

	return product, nil
}

const inventoryItemQuery = `
query findByInventoryItem($id: ID!) {
  inventoryItem(id: $id) {
    id
    variant {
      id
      sku
      product { id }
    }
  }
}`

// InventoryResolution links an inventory item back to its product and variant.
type InventoryResolution struct {
	ProductID  int64
	VariantID  string
	VariantSKU string
}

// FindProductByInventoryItem resolves an inventory_item_id to the owning
// product and variant.
func (c *Client) FindProductByInventoryItem(ctx context.Context, inventoryItemID int64) (*InventoryResolution, error) {
	gid := fmt.Sprintf("gid://shopify/InventoryItem/%d", inventoryItemID)

	var data struct {
		InventoryItem *struct {
			ID      string `json:"id"`
			Variant *struct {
				ID      string `json:"id"`
				SKU     string `json:"sku"`
				Product struct {
					ID string `json:"id"`
				} `json:"product"`
			} `json:"variant"`
		} `json:"inventoryItem"`
	}
	if err := c.graphql(ctx, inventoryItemQuery, map[string]any{"id": gid}, &data); err != nil {
		return nil, err
	}
	if data.InventoryItem == nil || data.InventoryItem.Variant == nil {
		return nil, fmt.Errorf("%w: inventory item %d", ErrNotFound, inventoryItemID)
	}

	variant := data.InventoryItem.Variant
	productID := numericGID(variant.Product.ID)
	if productID == 0 {
		return nil, fmt.Errorf("%w: inventory item %d has no product", ErrNotFound, inventoryItemID)
	}
	return &InventoryResolution{
		ProductID:  productID,
		VariantID:  variant.ID,
		VariantSKU: variant.SKU,
	}, nil
}

func numericGID(gid string) int64 {
	if gid == "" {
		return 0
	}
	parts := strings.Split(gid, "/")
	n, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	return n
}

const listProductsQuery = `
query listProducts($cursor: String, $query: String) {
  products(first: 50, after: $cursor, query: $query) {
    edges {
      node {
        id
        title
        vendor
        productType
        status
        tags
        featuredImage { url }
        bluefly_category: metafield(namespace: "custom", key: "bluefly_category") { value }
        color: metafield(namespace: "custom", key: "color") { value }
        sub_category: metafield(namespace: "custom", key: "sub_category") { value }
        gender: metafield(namespace: "custom", key: "gender") { value }
        variants(first: 100) {
          edges { node { sku price compareAtPrice inventoryQuantity } }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// ProductSummary is the condensed listing row returned by ListProducts.
type ProductSummary struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Vendor          string   `json:"vendor"`
	ProductType     string   `json:"product_type"`
	Status          string   `json:"status"`
	Tags            []string `json:"tags"`
	ImageURL        string   `json:"image_url,omitempty"`
	BlueflyCategory string   `json:"bluefly_category,omitempty"`
	Color           string   `json:"color,omitempty"`
	SubCategory     string   `json:"sub_category,omitempty"`
	Gender          string   `json:"gender,omitempty"`
	FirstSKU        string   `json:"first_sku"`
	FirstPrice      string   `json:"first_price,omitempty"`
	VariantCount    int      `json:"variant_count"`
	TotalQuantity   int      `json:"total_quantity"`
}

// ListProducts pages through the catalog with cursor pagination until
// exhausted. filter is a Shopify search query, e.g. "status:active".
func (c *Client) ListProducts(ctx context.Context, filter string) ([]ProductSummary, error) {
	type valueNode struct {
		Value string `json:"value"`
	}
	var page struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID              string     `json:"id"`
					Title           string     `json:"title"`
					Vendor          string     `json:"vendor"`
					ProductType     string     `json:"productType"`
					Status          string     `json:"status"`
					Tags            []string   `json:"tags"`
					FeaturedImage   *struct{ URL string } `json:"featuredImage"`
					BlueflyCategory *valueNode `json:"bluefly_category"`
					Color           *valueNode `json:"color"`
					SubCategory     *valueNode `json:"sub_category"`
					Gender          *valueNode `json:"gender"`
					Variants        struct {
						Edges []struct {
							Node struct {
								SKU               string `json:"sku"`
								Price             string `json:"price"`
								CompareAtPrice    string `json:"compareAtPrice"`
								InventoryQuantity int    `json:"inventoryQuantity"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"variants"`
				} `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"products"`
	}

	var all []ProductSummary
	cursor := ""
	for {
		variables := map[string]any{"query": filter}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		if err := c.graphql(ctx, listProductsQuery, variables, &page); err != nil {
			return nil, err
		}

		for _, edge := range page.Products.Edges {
			n := edge.Node
			summary := ProductSummary{
				ID:          numericGID(n.ID),
				Title:       n.Title,
				Vendor:      n.Vendor,
				ProductType: n.ProductType,
				Status:      n.Status,
				Tags:        n.Tags,
			}
			if n.FeaturedImage != nil {
				summary.ImageURL = n.FeaturedImage.URL
			}
			if n.BlueflyCategory != nil {
				summary.BlueflyCategory = n.BlueflyCategory.Value
			}
			if n.Color != nil {
				summary.Color = n.Color.Value
			}
			if n.SubCategory != nil {
				summary.SubCategory = n.SubCategory.Value
			}
			if n.Gender != nil {
				summary.Gender = n.Gender.Value
			}
			for i, ve := range n.Variants.Edges {
				if i == 0 {
					summary.FirstSKU = ve.Node.SKU
					summary.FirstPrice = ve.Node.Price
				}
				summary.TotalQuantity += ve.Node.InventoryQuantity
			}
			summary.VariantCount = len(n.Variants.Edges)
			all = append(all, summary)
		}

		if !page.Products.PageInfo.HasNextPage {
			break
		}
		cursor = page.Products.PageInfo.EndCursor
	}
	return all, nil
}
