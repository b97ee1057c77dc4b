package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/repositories"
)

const defaultFeaturedLimit = 8

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products     repositories.ProductRepository
	Fallback     []Product
	DefaultLimit int
	Logger       func(context.Context, string, map[string]any)
}

type catalogService struct {
	repo     repositories.ProductRepository
	fallback []Product
	limit    int
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service. Without a repository every
// read is served from the fallback list.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	fallback := deps.Fallback
	if fallback == nil {
		fallback = FallbackProducts()
	}
	limit := deps.DefaultLimit
	if limit <= 0 {
		limit = defaultFeaturedLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:     deps.Products,
		fallback: fallback,
		limit:    limit,
		logger:   logger,
	}, nil
}

// FallbackProducts is the built-in listing shown when the catalog is empty or unreachable.
func FallbackProducts() []Product {
	return []Product{
		{ID: "sandstone-1", Name: "Raj Green Sandstone", Category: "Sandstone", Price: decimal.RequireFromString("28.50"), Featured: true},
		{ID: "kota-1", Name: "Kota Blue Stone", Category: "Kota Stone", Price: decimal.RequireFromString("32.50"), Featured: true},
		{ID: "sandstone-2", Name: "Autumn Brown Sandstone", Category: "Sandstone", Price: decimal.RequireFromString("26.75"), Featured: true},
		{ID: "kota-2", Name: "Natural Kota Stone", Category: "Kota Stone", Price: decimal.RequireFromString("30.20"), Featured: true},
	}
}

func (s *catalogService) Featured(ctx context.Context, limit int) (FeaturedProducts, error) {
	if limit <= 0 {
		limit = s.limit
	}
	if s.repo == nil {
		return s.fallbackListing(limit), nil
	}
	products, err := s.repo.ListFeatured(ctx, limit)
	if err != nil {
		s.logger(ctx, "catalog.featured_failed", map[string]any{"error": err.Error()})
		return s.fallbackListing(limit), nil
	}
	if len(products) == 0 {
		return s.fallbackListing(limit), nil
	}
	return FeaturedProducts{Products: products}, nil
}

func (s *catalogService) Snapshot(ctx context.Context, productID string) (ProductSnapshot, error) {
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return ProductSnapshot{}, ErrCartInvalidInput
	}
	if s.repo != nil {
		product, err := s.repo.Get(ctx, pid)
		if err == nil {
			return product.Snapshot(), nil
		}
		if fallback, ok := s.fallbackProduct(pid); ok {
			return fallback.Snapshot(), nil
		}
		if isRepoNotFound(err) {
			return ProductSnapshot{}, fmt.Errorf("%w: product %s", ErrCartNotFound, pid)
		}
		return ProductSnapshot{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if fallback, ok := s.fallbackProduct(pid); ok {
		return fallback.Snapshot(), nil
	}
	return ProductSnapshot{}, fmt.Errorf("%w: product %s", ErrCartNotFound, pid)
}

func (s *catalogService) fallbackListing(limit int) FeaturedProducts {
	products := make([]Product, 0, len(s.fallback))
	for _, product := range s.fallback {
		if len(products) == limit {
			break
		}
		products = append(products, product)
	}
	return FeaturedProducts{Products: products, Fallback: true}
}

func (s *catalogService) fallbackProduct(productID string) (Product, bool) {
	for _, product := range s.fallback {
		if product.ID == productID {
			return product, true
		}
	}
	return Product{}, false
}
