// Package handler exposes the signal operations over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signalos/internal/ratelimit"
	"signalos/internal/signal/models"
	"signalos/internal/signal/service"
	"signalos/internal/signal/trust"
	dErrors "signalos/pkg/domain-errors"
	"signalos/pkg/platform/httputil"
	"signalos/pkg/requestcontext"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultTopLimit  = 10
)

// Service defines the signal operations the handler depends on.
type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Signal, error)
	Get(ctx context.Context, id uuid.UUID, communityID *uuid.UUID) (*models.Signal, error)
	ListPrioritized(ctx context.Context, communityID *uuid.UUID, offset, limit int) (*service.Page, error)
	ListFlagged(ctx context.Context, offset, limit int) (*service.Page, error)
	TopUnresolved(ctx context.Context, limit int, communityID *uuid.UUID) ([]*models.Signal, error)
	CastVote(ctx context.Context, signalID uuid.UUID, username string, communityID *uuid.UUID) (*models.Signal, error)
	UpdateStatus(ctx context.Context, signalID uuid.UUID, to models.Status, actor string, communityID *uuid.UUID) (*models.Signal, error)
	Moderate(ctx context.Context, signalID uuid.UUID, action service.ModerationAction, reason, actor string) (*models.Signal, error)
	FindDuplicates(ctx context.Context, communityID *uuid.UUID) (map[uuid.UUID][]*models.Signal, error)
	Merge(ctx context.Context, targetID uuid.UUID, duplicateIDs []uuid.UUID, actor string) (*models.Signal, error)
	TrustPacket(ctx context.Context, signalID uuid.UUID) (*trust.Packet, error)
	StatusHistory(ctx context.Context, signalID uuid.UUID) ([]*models.StatusEntry, error)
}

// Handler wires signal endpoints to the signal service.
type Handler struct {
	service Service
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// New constructs a signal handler with its dependencies.
func New(service Service, limiter ratelimit.Limiter, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		limiter: limiter,
		logger:  logger,
	}
}

// Register mounts signal endpoints on the router. The router is expected to
// already carry the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/signals", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/prioritized", h.HandleListPrioritized)
		r.Get("/flagged", h.HandleListFlagged)
		r.Get("/top", h.HandleTop)
		r.Get("/duplicates", h.HandleFindDuplicates)
		r.Post("/merge", h.HandleMerge)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/vote", h.HandleVote)
		r.Patch("/{id}/status", h.HandleUpdateStatus)
		r.Post("/{id}/moderate", h.HandleModerate)
		r.Get("/{id}/trust-packet", h.HandleTrustPacket)
		r.Get("/{id}/history", h.HandleHistory)
	})
}

// HandleCreate handles POST /signals.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := requestcontext.Username(ctx)

	if !h.allow(w, r, "create:"+username) {
		return
	}

	req, ok := httputil.Decode[CreateSignalRequest](w, r)
	if !ok {
		return
	}

	sig, err := h.service.Create(ctx, service.CreateRequest{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Urgency:        req.Urgency,
		Impact:         req.Impact,
		AffectedPeople: req.AffectedPeople,
		Username:       username,
		CommunityID:    req.CommunityID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "signal creation failed",
			"request_id", requestcontext.RequestID(ctx),
			"username", username,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromSignal(sig))
}

// HandleGet handles GET /signals/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sig, err := h.service.Get(r.Context(), id, communityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignal(sig))
}

// HandleListPrioritized handles GET /signals/prioritized.
func (h *Handler) HandleListPrioritized(w http.ResponseWriter, r *http.Request) {
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset := queryInt(r, "offset", 0, 0)
	limit := queryInt(r, "limit", defaultPageLimit, maxPageLimit)

	page, err := h.service.ListPrioritized(r.Context(), communityID, offset, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PageResponse{
		Signals: fromSignals(page.Signals),
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
}

// HandleListFlagged handles GET /signals/flagged, the moderation queue.
func (h *Handler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0, 0)
	limit := queryInt(r, "limit", defaultPageLimit, maxPageLimit)

	page, err := h.service.ListFlagged(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PageResponse{
		Signals: fromSignals(page.Signals),
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
}

// HandleTop handles GET /signals/top.
func (h *Handler) HandleTop(w http.ResponseWriter, r *http.Request) {
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := queryInt(r, "limit", defaultTopLimit, maxPageLimit)

	signals, err := h.service.TopUnresolved(r.Context(), limit, communityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignals(signals))
}

// HandleVote handles POST /signals/{id}/vote.
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := requestcontext.Username(ctx)

	if !h.allow(w, r, "vote:"+username) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sig, err := h.service.CastVote(ctx, id, username, communityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignal(sig))
}

// HandleUpdateStatus handles PATCH /signals/{id}/status.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[UpdateStatusRequest](w, r)
	if !ok {
		return
	}
	to, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sig, err := h.service.UpdateStatus(ctx, id, to, requestcontext.Username(ctx), communityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignal(sig))
}

// HandleModerate handles POST /signals/{id}/moderate.
func (h *Handler) HandleModerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[ModerateRequest](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "moderation reason is required"))
		return
	}

	sig, err := h.service.Moderate(ctx, id, service.ModerationAction(req.Action), req.Reason, requestcontext.Username(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignal(sig))
}

// HandleFindDuplicates handles GET /signals/duplicates.
func (h *Handler) HandleFindDuplicates(w http.ResponseWriter, r *http.Request) {
	communityID, err := queryCommunity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	clusters, err := h.service.FindDuplicates(r.Context(), communityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]DuplicateClusterResponse, 0, len(clusters))
	for repID, dups := range clusters {
		out = append(out, DuplicateClusterResponse{
			RepresentativeID: repID,
			Duplicates:       fromSignals(dups),
		})
	}
	// Map iteration order is random; keep the response stable for clients.
	sort.Slice(out, func(i, j int) bool {
		return out[i].RepresentativeID.String() < out[j].RepresentativeID.String()
	})
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleMerge handles POST /signals/merge.
func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[MergeRequest](w, r)
	if !ok {
		return
	}

	sig, err := h.service.Merge(ctx, req.TargetID, req.DuplicateIDs, requestcontext.Username(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "merge failed",
			"request_id", requestcontext.RequestID(ctx),
			"target_id", req.TargetID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSignal(sig))
}

// HandleTrustPacket handles GET /signals/{id}/trust-packet.
func (h *Handler) HandleTrustPacket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	packet, err := h.service.TrustPacket(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, packet)
}

// HandleHistory handles GET /signals/{id}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.StatusHistory(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEntries(entries))
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		// Fail open: a limiter outage must not block submissions.
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeTooMany, "rate limit exceeded, try again later"))
		return false
	}
	return true
}
