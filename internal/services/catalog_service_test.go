package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/domain"
)

type stubProductRepository struct {
	products  map[string]domain.Product
	featured  []domain.Product
	getErr    error
	listErr   error
	lastLimit int
}

func (s *stubProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	if s.getErr != nil {
		return domain.Product{}, s.getErr
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, &repositoryErrorStub{notFound: true}
	}
	return product, nil
}

func (s *stubProductRepository) ListFeatured(ctx context.Context, limit int) ([]domain.Product, error) {
	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.featured, nil
}

func TestCatalogServiceFeaturedFromRepository(t *testing.T) {
	repo := &stubProductRepository{featured: []domain.Product{
		{ID: "granite-1", Name: "Black Granite", Price: decimal.RequireFromString("44.00"), Featured: true},
	}}
	svc, err := NewCatalogService(CatalogServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	listing, err := svc.Featured(context.Background(), 0)
	if err != nil {
		t.Fatalf("Featured: %v", err)
	}
	if listing.Fallback || len(listing.Products) != 1 || listing.Products[0].ID != "granite-1" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if repo.lastLimit != defaultFeaturedLimit {
		t.Fatalf("expected default limit %d, got %d", defaultFeaturedLimit, repo.lastLimit)
	}
}

func TestCatalogServiceFeaturedFallsBack(t *testing.T) {
	cases := map[string]*stubProductRepository{
		"error": {listErr: &repositoryErrorStub{unavailable: true}},
		"empty": {},
	}
	for name, repo := range cases {
		t.Run(name, func(t *testing.T) {
			events := &eventLog{}
			svc, _ := NewCatalogService(CatalogServiceDeps{Products: repo, Logger: events.record})
			listing, err := svc.Featured(context.Background(), 3)
			if err != nil {
				t.Fatalf("Featured: %v", err)
			}
			if !listing.Fallback || len(listing.Products) != 3 {
				t.Fatalf("expected 3 fallback products, got %+v", listing)
			}
			if listing.Products[0].ID != "sandstone-1" || !listing.Products[0].Price.Equal(decimal.RequireFromString("28.50")) {
				t.Fatalf("unexpected first fallback product: %+v", listing.Products[0])
			}
			if name == "error" && !events.has("catalog.featured_failed") {
				t.Fatalf("expected failure to be logged")
			}
		})
	}
}

func TestCatalogServiceSnapshot(t *testing.T) {
	repo := &stubProductRepository{products: map[string]domain.Product{
		"granite-1": {ID: "granite-1", Name: "Black Granite", Category: "Granite", Price: decimal.RequireFromString("44.00"), ImageURL: "https://cdn.example/g.jpg"},
	}}
	svc, _ := NewCatalogService(CatalogServiceDeps{Products: repo})
	ctx := context.Background()

	snapshot, err := svc.Snapshot(ctx, "granite-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.ProductID != "granite-1" || snapshot.ImageURL == "" || !snapshot.UnitPrice.Equal(decimal.RequireFromString("44")) {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	fallback, err := svc.Snapshot(ctx, "kota-2")
	if err != nil || fallback.Name != "Natural Kota Stone" {
		t.Fatalf("expected fallback snapshot, got %+v (%v)", fallback, err)
	}

	if _, err := svc.Snapshot(ctx, "nope"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Snapshot(ctx, " "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	repo.getErr = &repositoryErrorStub{unavailable: true}
	if _, err := svc.Snapshot(ctx, "granite-1"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
