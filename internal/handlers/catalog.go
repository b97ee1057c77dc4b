package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iryastone/storefront/internal/platform/httpx"
	"github.com/iryastone/storefront/internal/services"
)

const maxFeaturedLimit = 50

// CatalogHandlers exposes public product listings.
type CatalogHandlers struct {
	catalog services.CatalogService
	money   moneyFormatter
}

// NewCatalogHandlers constructs catalog handlers rendering prices in the given ISO currency.
func NewCatalogHandlers(catalog services.CatalogService, currencyCode string) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, money: newMoneyFormatter(currencyCode)}
}

// Routes wires the /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/featured", h.featured)
}

type featuredResponse struct {
	Products []productPayload `json:"products"`
	Fallback bool             `json:"fallback"`
}

func (h *CatalogHandlers) featured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxFeaturedLimit {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be between 1 and 50", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	listing, err := h.catalog.Featured(ctx, limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	products := make([]productPayload, 0, len(listing.Products))
	for _, product := range listing.Products {
		products = append(products, productPayload{
			ID:          product.ID,
			Name:        product.Name,
			Category:    product.Category,
			Description: product.Description,
			ImageURL:    product.ImageURL,
			UnitPrice:   h.money.money(product.Price),
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, featuredResponse{Products: products, Fallback: listing.Fallback})
}
