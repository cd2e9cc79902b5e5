package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	catalogapp "github.com/tytya04/zakupki/internal/catalog/application"
	"github.com/tytya04/zakupki/internal/draft/application"
	"github.com/tytya04/zakupki/internal/draft/domain"
	"github.com/tytya04/zakupki/internal/ingest/resolver"
	"github.com/tytya04/zakupki/internal/session"
	"github.com/tytya04/zakupki/pkg/idempotency"
	"github.com/tytya04/zakupki/pkg/tracing"
)

// Handler is the API the conversation layer drives. It owns no order logic:
// it decodes, dispatches and maps outcomes to statuses.
type Handler struct {
	log      *slog.Logger
	drafts   *application.Service
	catalog  *catalogapp.Service
	search   *resolver.Resolver
	sessions *session.Store
	idem     *idempotency.Store
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, drafts *application.Service, catalog *catalogapp.Service, search *resolver.Resolver, sessions *session.Store, idem *idempotency.Store) *Handler {
	return &Handler{
		log:      log,
		drafts:   drafts,
		catalog:  catalog,
		search:   search,
		sessions: sessions,
		idem:     idem,
		tracer:   otel.Tracer("procurement-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/ingest", h.ingest)
	r.Post("/resolve-unit", h.resolveUnit)
	r.Get("/drafts/{id}", h.getDraft)
	r.Post("/drafts/{id}/convert", h.convert)
	r.Post("/drafts/{id}/cancel", h.cancel)
	r.Post("/drafts/{id}/lines/{lineID}/confirm", h.confirmMatch)
	r.Post("/drafts/{id}/lines/{lineID}/duplicate", h.resolveDuplicate)
	r.Patch("/drafts/{id}/lines/{lineID}", h.editQuantity)
	r.Delete("/drafts/{id}/lines/{lineID}", h.removeLine)
	r.Get("/catalog/search", h.searchCatalog)
	r.Post("/catalog/rebuild", h.rebuildCatalog)
	return r
}

type ingestReq struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id,omitempty"`
	DraftID        *uuid.UUID `json:"draft_id,omitempty"`
	RestaurantID   uuid.UUID  `json:"restaurant_id"`
	BranchID       *uuid.UUID `json:"branch_id,omitempty"`
	OperatorID     uuid.UUID  `json:"operator_id"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	Text           string     `json:"text"`
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "IngestBatch")
	defer span.End()

	var req ingestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	if req.Text == "" {
		h.badRequest(w, "text is required")
		return
	}

	// Messenger platforms redeliver on ack timeout; a replayed batch must
	// not double the draft's lines.
	if h.idem != nil && req.ConversationID != "" && req.MessageID != "" {
		seen, err := h.idem.Seen(ctx, h.idem.MessageKey(req.ConversationID, req.MessageID))
		if err != nil {
			h.log.Warn("idempotency check failed", "conversation_id", req.ConversationID, "err", err)
		} else if seen {
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "message already processed"})
			return
		}
	}

	// A conversation that already targets a draft keeps targeting it.
	if req.DraftID == nil && req.ConversationID != "" {
		if st, err := h.sessions.Get(ctx, req.ConversationID); err == nil {
			req.DraftID = &st.DraftID
		}
	}

	res, err := h.drafts.IngestBatch(ctx, application.IngestRequest{
		DraftID:      req.DraftID,
		RestaurantID: req.RestaurantID,
		BranchID:     req.BranchID,
		OperatorID:   req.OperatorID,
		ScheduledFor: req.ScheduledFor,
		Text:         req.Text,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if req.ConversationID != "" {
		st := session.State{DraftID: res.DraftID}
		if len(res.NeedsUnit) > 0 {
			st.PendingUnit = &session.PendingUnit{
				Name:     res.NeedsUnit[0].Name,
				Quantity: res.NeedsUnit[0].Quantity,
				Options:  res.NeedsUnit[0].Options,
			}
		}
		if err := h.sessions.Put(ctx, req.ConversationID, st); err != nil {
			h.log.Warn("session save failed", "conversation_id", req.ConversationID, "err", err)
		}
	}

	h.writeJSON(w, http.StatusOK, res)
}

type resolveUnitReq struct {
	ConversationID string          `json:"conversation_id"`
	DraftID        uuid.UUID       `json:"draft_id"`
	OperatorID     uuid.UUID       `json:"operator_id"`
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
}

func (h *Handler) resolveUnit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ResolveUnit")
	defer span.End()

	var req resolveUnitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}

	res, err := h.drafts.ResolveUnit(ctx, req.DraftID, req.OperatorID, req.Name, req.Quantity, req.Unit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.ConversationID != "" {
		if err := h.sessions.Put(ctx, req.ConversationID, session.State{DraftID: res.DraftID}); err != nil {
			h.log.Warn("session save failed", "conversation_id", req.ConversationID, "err", err)
		}
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	draft, err := h.drafts.GetDraft(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	lines := make([]domain.LineView, 0, len(draft.Lines))
	for _, l := range draft.Lines {
		lines = append(lines, l.View())
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":            draft.ID,
		"restaurant_id": draft.RestaurantID,
		"branch_id":     draft.BranchID,
		"scheduled_for": draft.ScheduledFor,
		"status":        draft.Status,
		"lines":         lines,
	})
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConvertDraft")
	defer span.End()

	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	traceparent := r.Header.Get(tracing.TraceparentHeader)
	if traceparent == "" {
		traceparent = tracing.Traceparent(ctx)
	}

	fo, err := h.drafts.Convert(ctx, id, traceparent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"firm_order_id": fo.ID,
		"lines":         len(fo.Lines),
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelDraft")
	defer span.End()

	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.drafts.Cancel(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type confirmReq struct {
	ProductID uuid.UUID `json:"product_id"`
}

func (h *Handler) confirmMatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmMatch")
	defer span.End()

	draftID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.uuidParam(w, r, "lineID")
	if !ok {
		return
	}
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}

	view, err := h.drafts.ConfirmMatch(ctx, draftID, lineID, req.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type duplicateReq struct {
	Decision domain.DuplicateDecision `json:"decision"`
	Quantity decimal.Decimal          `json:"quantity"`
	Unit     string                   `json:"unit,omitempty"`
}

func (h *Handler) resolveDuplicate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ResolveDuplicate")
	defer span.End()

	draftID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.uuidParam(w, r, "lineID")
	if !ok {
		return
	}
	var req duplicateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}

	view, err := h.drafts.ResolveDuplicate(ctx, draftID, lineID, req.Decision, req.Quantity, req.Unit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type editReq struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handler) editQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "EditQuantity")
	defer span.End()

	draftID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.uuidParam(w, r, "lineID")
	if !ok {
		return
	}
	var req editReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}

	view, err := h.drafts.EditQuantity(ctx, draftID, lineID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveLine")
	defer span.End()

	draftID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.uuidParam(w, r, "lineID")
	if !ok {
		return
	}
	if err := h.drafts.RemoveLine(ctx, draftID, lineID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) searchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		h.badRequest(w, "q is required")
		return
	}
	limit := resolver.LimitInteractive
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"candidates": h.search.Resolve(q, limit),
	})
}

func (h *Handler) rebuildCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RebuildCatalog")
	defer span.End()

	products, synonyms, err := h.catalog.Rebuild(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{
		"products": products,
		"synonyms": synonyms,
	})
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.badRequest(w, name+" is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain outcomes to statuses. Conflict-class failures carry
// a retryable flag so the conversation layer knows a re-fetch and retry of
// the single operation is expected to succeed.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrDraftNotFound),
		errors.Is(err, application.ErrProductNotFound),
		errors.Is(err, domain.ErrLineNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, application.ErrStaleDraft):
		h.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "retryable": true})
	case errors.Is(err, domain.ErrDraftNotEditable),
		errors.Is(err, domain.ErrUnresolvedLines),
		errors.Is(err, domain.ErrEmptyDraft):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrBadQuantity),
		errors.Is(err, domain.ErrUnknownDecision):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.log.Error("request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
