package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/httpx"
	"github.com/iryastone/storefront/internal/services"
)

const defaultSyncWait = 15 * time.Second

type signInPublisher interface {
	SignIn(ctx context.Context, anonymousID, idToken string) (auth.StateChange, error)
}

type syncRunner interface {
	SyncNow(ctx context.Context, anonymousID, userID string) (*services.SyncJob, error)
	Job(userID string) (*services.SyncJob, bool)
}

// SessionHandlers exposes sign-in and cart sync endpoints.
type SessionHandlers struct {
	sessions     signInPublisher
	sync         syncRunner
	resolveOwner func(http.Handler) http.Handler
	maxWait      time.Duration
}

// NewSessionHandlers constructs handlers over the session registry and the login sync task.
// resolveOwner guards the sync routes; login authenticates through its request body.
func NewSessionHandlers(sessions signInPublisher, sync syncRunner, resolveOwner func(http.Handler) http.Handler) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, sync: sync, resolveOwner: resolveOwner, maxWait: defaultSyncWait}
}

// Routes wires the /session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Group(func(authed chi.Router) {
		if h.resolveOwner != nil {
			authed.Use(h.resolveOwner)
		}
		authed.Use(auth.RequireAuthenticated())
		authed.Get("/sync", h.getSync)
		authed.Post("/sync", h.syncNow)
	})
}

type loginRequest struct {
	IDToken          string `json:"idToken"`
	AnonymousSession string `json:"anonymousSession"`
}

type syncJobResponse struct {
	Job syncJobPayload `json:"job"`
}

type syncJobPayload struct {
	ID             string             `json:"id"`
	UserID         string             `json:"userId"`
	Status         string             `json:"status"`
	StartedAt      string             `json:"startedAt,omitempty"`
	FinishedAt     string             `json:"finishedAt,omitempty"`
	Error          string             `json:"error,omitempty"`
	CartMigrated   []migratedItemJSON `json:"cartMigrated"`
	CartFailed     []failedItemJSON   `json:"cartFailed"`
	WishlistMoved  []migratedItemJSON `json:"wishlistMoved"`
	WishlistFailed []failedItemJSON   `json:"wishlistFailed"`
}

type migratedItemJSON struct {
	LocalID   string `json:"localId"`
	RemoteID  string `json:"remoteId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

type failedItemJSON struct {
	LocalID   string `json:"localId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
	Reason    string `json:"reason"`
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil || h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "sign-in is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.AnonymousSession) == "" {
		req.AnonymousSession = r.Header.Get(auth.AnonymousSessionHeader)
	}

	signInCtx, startedJob := services.WithSyncJobCapture(ctx)
	if _, err := h.sessions.SignIn(signInCtx, req.AnonymousSession, req.IDToken); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	job, ok := startedJob()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("sync_not_started", "cart sync did not start", http.StatusServiceUnavailable))
		return
	}
	h.respondJob(w, r, job)
}

func (h *SessionHandlers) getSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "cart sync is unavailable", http.StatusServiceUnavailable))
		return
	}
	owner, _ := auth.OwnerFromContext(ctx)
	job, ok := h.sync.Job(owner.ID)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("sync_not_found", "no cart sync has run for this user", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, syncJobResponse{Job: buildSyncJobPayload(job.State())})
}

func (h *SessionHandlers) syncNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "cart sync is unavailable", http.StatusServiceUnavailable))
		return
	}
	owner, _ := auth.OwnerFromContext(ctx)
	anonymousID := strings.TrimSpace(r.Header.Get(auth.AnonymousSessionHeader))
	if anonymousID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("anonymous_session_required", "X-Anonymous-Session header is required", http.StatusBadRequest))
		return
	}
	job, err := h.sync.SyncNow(ctx, anonymousID, owner.ID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	h.respondJob(w, r, job)
}

// respondJob answers 202 with the pending job, or waits for it when ?wait=true.
func (h *SessionHandlers) respondJob(w http.ResponseWriter, r *http.Request, job *services.SyncJob) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSONResponse(w, http.StatusAccepted, syncJobResponse{Job: buildSyncJobPayload(job.State())})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.maxWait)
	defer cancel()
	state, err := job.Wait(ctx)
	if err != nil {
		writeJSONResponse(w, http.StatusAccepted, syncJobResponse{Job: buildSyncJobPayload(state)})
		return
	}

	status := http.StatusOK
	switch state.Status {
	case services.SyncPartial:
		status = http.StatusMultiStatus
	case services.SyncFailed:
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, syncJobResponse{Job: buildSyncJobPayload(state)})
}

func buildSyncJobPayload(state services.SyncJobState) syncJobPayload {
	payload := syncJobPayload{
		ID:             state.ID,
		UserID:         state.UserID,
		Status:         string(state.Status),
		StartedAt:      formatTime(state.StartedAt),
		FinishedAt:     formatTime(state.FinishedAt),
		CartMigrated:   migratedItems(state.Result.CartMigrated),
		CartFailed:     failedItems(state.Result.CartFailed),
		WishlistMoved:  migratedItems(state.Result.WishlistMoved),
		WishlistFailed: failedItems(state.Result.WishlistFailed),
	}
	if state.Err != nil && !errors.Is(state.Err, services.ErrPartialMigration) {
		payload.Error = state.Err.Error()
	}
	return payload
}

func migratedItems(items []domain.MigratedItem) []migratedItemJSON {
	out := make([]migratedItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, migratedItemJSON{
			LocalID:   item.LocalID,
			RemoteID:  item.RemoteID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return out
}

func failedItems(items []domain.FailedItem) []failedItemJSON {
	out := make([]failedItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, failedItemJSON{
			LocalID:   item.LocalID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reason:    item.Reason,
		})
	}
	return out
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAnonymousSessionRequired):
		httpx.WriteError(ctx, w, httpx.NewError("anonymous_session_required", "a valid anonymous session is required", http.StatusBadRequest))
	case errors.Is(err, auth.ErrTokenExpired):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "id token expired", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "id token is invalid", http.StatusUnauthorized))
	case errors.Is(err, auth.ErrSessionNotStarted), errors.Is(err, auth.ErrSessionClosed):
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "sign-in is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("sign_in_failed", "sign-in failed", http.StatusServiceUnavailable))
	}
}
