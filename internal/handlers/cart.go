package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/httpx"
	"github.com/iryastone/storefront/internal/services"
)

// CartHandlers exposes cart and wishlist endpoints for the resolved owner.
type CartHandlers struct {
	carts services.CartService
	money moneyFormatter
}

// NewCartHandlers constructs cart handlers rendering prices in the given ISO currency.
func NewCartHandlers(carts services.CartService, currencyCode string) *CartHandlers {
	return &CartHandlers{
		carts: carts,
		money: newMoneyFormatter(currencyCode),
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
	r.Get("/totals", h.getTotals)
	r.Get("/count", h.getCount)
}

// WishlistRoutes wires the /wishlist endpoints onto the provided router.
func (h *CartHandlers) WishlistRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getWishlist)
	r.Put("/{productID}", h.addWishlistEntry)
	r.Delete("/{productID}", h.removeWishlistEntry)
}

type addCartItemRequest struct {
	ProductID string                  `json:"productId"`
	Quantity  *int                    `json:"quantity"`
	Product   *productSnapshotRequest `json:"product"`
}

type productSnapshotRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	ImageURL  string          `json:"imageUrl"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	Store     string            `json:"store"`
	Items     []cartItemPayload `json:"items"`
	ItemCount int               `json:"itemCount"`
}

type cartItemPayload struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Product   *productPayload `json:"product,omitempty"`
	LineTotal *moneyPayload   `json:"lineTotal,omitempty"`
	AddedAt   string          `json:"addedAt,omitempty"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
}

type productPayload struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	UnitPrice   moneyPayload `json:"unitPrice"`
}

type addCartItemResponse struct {
	LineID   string `json:"lineId"`
	Store    string `json:"store"`
	Quantity int    `json:"quantity"`
	Merged   bool   `json:"merged"`
}

type totalsResponse struct {
	Totals totalsPayload `json:"totals"`
}

type totalsPayload struct {
	Subtotal      moneyPayload `json:"subtotal"`
	VAT           moneyPayload `json:"vat"`
	Total         moneyPayload `json:"total"`
	Deposit       moneyPayload `json:"deposit"`
	Balance       moneyPayload `json:"balance"`
	VATRate       string       `json:"vatRate"`
	DepositRate   string       `json:"depositRate"`
	Lines         int          `json:"lines"`
	Items         int          `json:"items"`
	UnpricedLines int          `json:"unpricedLines"`
}

type wishlistResponse struct {
	Wishlist wishlistPayload `json:"wishlist"`
}

type wishlistPayload struct {
	Store   string                 `json:"store"`
	Entries []wishlistEntryPayload `json:"entries"`
}

type wishlistEntryPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	AddedAt   string `json:"addedAt,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.GetCartItems(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(view)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	var req addCartItemRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	cmd := services.AddToCartCommand{ProductID: req.ProductID, Quantity: quantity}
	if req.Product != nil {
		cmd.Snapshot = &domain.ProductSnapshot{
			ProductID: strings.TrimSpace(req.ProductID),
			Name:      req.Product.Name,
			Category:  req.Product.Category,
			UnitPrice: req.Product.UnitPrice,
			ImageURL:  req.Product.ImageURL,
		}
	}

	result, err := h.carts.AddToCart(ctx, owner, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if result.Merged {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, addCartItemResponse{
		LineID:   result.LineID,
		Store:    string(result.Store),
		Quantity: result.Quantity,
		Merged:   result.Merged,
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := h.carts.UpdateQuantity(ctx, owner, chi.URLParam(r, "lineID"), req.Quantity); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.RemoveLine(ctx, owner, chi.URLParam(r, "lineID")); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.ClearCart(ctx, owner); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) getTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	totals, err := h.carts.Totals(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, totalsResponse{Totals: totalsPayload{
		Subtotal:      h.money.money(totals.Subtotal),
		VAT:           h.money.money(totals.VAT),
		Total:         h.money.money(totals.Total),
		Deposit:       h.money.money(totals.Deposit),
		Balance:       h.money.money(totals.Balance),
		VATRate:       totals.VATRate.String(),
		DepositRate:   totals.DepositRate.String(),
		Lines:         totals.Lines,
		Items:         totals.Items,
		UnpricedLines: totals.UnpricedLines,
	}})
}

func (h *CartHandlers) getCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	count, err := h.carts.CartCount(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, map[string]int{"count": count})
}

func (h *CartHandlers) getWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.GetWishlist(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	entries := make([]wishlistEntryPayload, 0, len(view.Entries))
	for _, entry := range view.Entries {
		entries = append(entries, wishlistEntryPayload{
			ID:        entry.ID,
			ProductID: entry.ProductID,
			AddedAt:   formatTime(entry.AddedAt),
		})
	}
	setNoStoreHeaders(w)
	writeJSONResponse(w, http.StatusOK, wishlistResponse{Wishlist: wishlistPayload{Store: string(view.Store), Entries: entries}})
}

func (h *CartHandlers) addWishlistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	result, err := h.carts.AddToWishlist(ctx, owner, chi.URLParam(r, "productID"))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, map[string]any{
		"entryId": result.EntryID,
		"store":   string(result.Store),
		"created": result.Created,
	})
}

func (h *CartHandlers) removeWishlistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.owner(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.RemoveFromWishlist(ctx, owner, chi.URLParam(r, "productID")); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) owner(ctx context.Context, w http.ResponseWriter) (domain.Owner, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return domain.Owner{}, false
	}
	owner, ok := auth.OwnerFromContext(ctx)
	if !ok || !owner.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "a bearer token or anonymous session is required", http.StatusUnauthorized))
		return domain.Owner{}, false
	}
	return owner, true
}

func (h *CartHandlers) buildCartPayload(view services.CartView) cartPayload {
	items := make([]cartItemPayload, 0, len(view.Lines))
	count := 0
	for _, line := range view.Lines {
		count += line.Quantity
		item := cartItemPayload{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   formatTime(line.AddedAt),
			UpdatedAt: formatTime(line.UpdatedAt),
		}
		if line.Product != nil {
			item.Product = &productPayload{
				ID:        line.Product.ProductID,
				Name:      line.Product.Name,
				Category:  line.Product.Category,
				ImageURL:  line.Product.ImageURL,
				UnitPrice: h.money.money(line.Product.UnitPrice),
			}
			lineTotal := h.money.money(line.Product.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
			item.LineTotal = &lineTotal
		}
		items = append(items, item)
	}
	return cartPayload{Store: string(view.Store), Items: items, ItemCount: count}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrQuantityLimit):
		httpx.WriteError(ctx, w, httpx.NewError("quantity_limit_exceeded", "line quantity exceeds the allowed maximum", http.StatusBadRequest).
			WithDetails(map[string]any{"max_quantity": services.MaxLineQuantity}))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid cart request", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart store is unavailable; retry shortly", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrLocalStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("session_store_unavailable", "session store is unavailable; retry shortly", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
