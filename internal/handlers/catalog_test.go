package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iryastone/storefront/internal/services"
)

func TestCatalogHandlersFeaturedFallback(t *testing.T) {
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	h := NewCatalogHandlers(catalog, "GBP")
	router := NewRouter(WithProductRoutes(h.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/featured?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body featuredResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Fallback || len(body.Products) != 2 {
		t.Fatalf("unexpected listing: %+v", body)
	}
	first := body.Products[0]
	if first.ID != "sandstone-1" || first.UnitPrice.Display != "£28.50" || first.UnitPrice.Amount != "28.50" {
		t.Fatalf("unexpected product: %+v", first)
	}
}

func TestCatalogHandlersRejectsBadLimit(t *testing.T) {
	catalog, _ := services.NewCatalogService(services.CatalogServiceDeps{})
	router := NewRouter(WithProductRoutes(NewCatalogHandlers(catalog, "GBP").Routes))
	for _, limit := range []string{"0", "abc", "51"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/featured?limit="+limit, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %s: expected 400, got %d", limit, rr.Code)
		}
	}
}

type erroringCatalog struct{ services.CatalogService }

func (erroringCatalog) Featured(context.Context, int) (services.FeaturedProducts, error) {
	return services.FeaturedProducts{}, services.ErrCartUnavailable
}

func TestCatalogHandlersServiceFailure(t *testing.T) {
	router := NewRouter(WithProductRoutes(NewCatalogHandlers(erroringCatalog{}, "GBP").Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/featured", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
