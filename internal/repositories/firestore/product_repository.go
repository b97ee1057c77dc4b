package firestore

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/domain"
	pfirestore "github.com/iryastone/storefront/internal/platform/firestore"
	"github.com/iryastone/storefront/internal/repositories"
)

const (
	productCollection = "products"

	defaultProductName     = "Stone Product"
	defaultProductCategory = "Stone"
	defaultFeaturedLimit   = 8
)

// ProductRepository reads catalog documents. Documents are loosely typed: prices may be numbers
// or formatted strings, and images may be a list or a single URL.
type ProductRepository struct {
	products *pfirestore.Collection[map[string]any]
	policy   *bluemonday.Policy
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed catalog repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewCollection[map[string]any](provider, productCollection, nil, pfirestore.MapDecoder()),
		policy:   bluemonday.StrictPolicy(),
	}, nil
}

// Get loads a single product.
func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return r.decode(doc.ID, doc.Data)
}

// ListFeatured returns up to limit products flagged as featured.
func (r *ProductRepository) ListFeatured(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = defaultFeaturedLimit
	}
	docs, err := r.products.Query(ctx, pfirestore.Limit(limit, pfirestore.Where(pfirestore.Equal("featured", true))))
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := r.decode(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func (r *ProductRepository) decode(id string, data map[string]any) (domain.Product, error) {
	price, err := parsePrice(data["priceGBP"])
	if err != nil {
		return domain.Product{}, fmt.Errorf("products.decode %s: %w", id, err)
	}
	featured, _ := data["featured"].(bool)
	return domain.Product{
		ID:          id,
		Name:        r.text(data["name"], defaultProductName),
		Category:    r.text(data["category"], defaultProductCategory),
		Description: r.text(data["description"], ""),
		ImageURL:    imageURL(data),
		Price:       price,
		Featured:    featured,
	}, nil
}

func (r *ProductRepository) text(raw any, fallback string) string {
	value, _ := raw.(string)
	value = strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(value)))
	if value == "" {
		return fallback
	}
	return value
}

func imageURL(data map[string]any) string {
	switch images := data["images"].(type) {
	case []any:
		if len(images) > 0 {
			if first, ok := images[0].(string); ok && strings.TrimSpace(first) != "" {
				return strings.TrimSpace(first)
			}
		}
	case []string:
		if len(images) > 0 && strings.TrimSpace(images[0]) != "" {
			return strings.TrimSpace(images[0])
		}
	}
	url, _ := data["imageUrl"].(string)
	return strings.TrimSpace(url)
}

// parsePrice accepts a number or a display string such as "£28.50" or "1,250.00". Missing prices are zero.
func parsePrice(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		cleaned := strings.NewReplacer("£", "", ",", "", "GBP", "", " ", "").Replace(strings.TrimSpace(v))
		if cleaned == "" {
			return decimal.Zero, nil
		}
		price, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid price %q", v)
		}
		return price, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %T", raw)
	}
}
