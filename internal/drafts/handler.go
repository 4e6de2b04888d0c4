package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joao-fontenele/orderdesk/internal/composer"
)

// Opener builds a fresh, unloaded composer for a new draft.
type Opener func() *composer.Composer

type CatalogInvalidator interface {
	InvalidateProducts(ctx context.Context) error
}

type Handler struct {
	registry    *Registry
	open        Opener
	invalidator CatalogInvalidator
	logger      *slog.Logger
}

// NewHandler wires the draft routes. invalidator may be nil when catalogs
// are not cached.
func NewHandler(registry *Registry, open Opener, invalidator CatalogInvalidator, logger *slog.Logger) *Handler {
	return &Handler{
		registry:    registry,
		open:        open,
		invalidator: invalidator,
		logger:      logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /drafts", wrap(h.HandleCreate))
	mux.HandleFunc("GET /drafts/{id}", wrap(h.HandleGet))
	mux.HandleFunc("DELETE /drafts/{id}", wrap(h.HandleDelete))
	mux.HandleFunc("PUT /drafts/{id}/customer", wrap(h.HandleSetCustomer))
	mux.HandleFunc("PUT /drafts/{id}/date", wrap(h.HandleSetDate))
	mux.HandleFunc("PUT /drafts/{id}/lines/{productId}", wrap(h.HandleSetLine))
	mux.HandleFunc("POST /drafts/{id}/products/refresh", wrap(h.HandleRefreshProducts))
	mux.HandleFunc("POST /drafts/{id}/submit", wrap(h.HandleSubmit))
	mux.HandleFunc("POST /drafts/{id}/dismiss", wrap(h.HandleDismiss))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	c := h.open()
	if err := c.Load(r.Context()); err != nil {
		h.logger.Warn("draft opened with incomplete catalogs", "error", err, "draft_id", c.ID())
	}
	h.registry.Add(c)

	h.logger.Info("draft opened", "draft_id", c.ID())
	h.writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Remove(id); err != nil {
		h.writeError(w, http.StatusNotFound, "draft not found")
		return
	}

	h.logger.Info("draft discarded", "draft_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type setCustomerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

func (h *Handler) HandleSetCustomer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req setCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if req.CustomerID == nil {
		err = c.ClearCustomer()
	} else {
		err = c.SetCustomer(*req.CustomerID)
	}
	if err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

type setDateRequest struct {
	Date string `json:"date"`
}

func (h *Handler) HandleSetDate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req setDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := c.SetDate(req.Date); err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

// setLineRequest takes the quantity exactly as typed: a JSON number or a
// string, which the composer coerces.
type setLineRequest struct {
	Quantity json.RawMessage `json:"quantity"`
}

func (h *Handler) HandleSetLine(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(r.PathValue("productId"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req setLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := c.SetLineQuantity(productID, rawQuantity(req.Quantity)); err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

func rawQuantity(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

func (h *Handler) HandleRefreshProducts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if h.invalidator != nil {
		if err := h.invalidator.InvalidateProducts(r.Context()); err != nil {
			h.logger.Warn("failed to invalidate product catalog cache", "error", err)
		}
	}

	if err := c.RefreshProducts(r.Context()); err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if _, err := c.Submit(r.Context()); err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := c.Dismiss(); err != nil {
		h.writeComposerError(w, c, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*composer.Composer, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing draft id")
		return nil, false
	}

	c, err := h.registry.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "draft not found")
		return nil, false
	}
	return c, true
}

type validationResponse struct {
	Error  string                    `json:"error"`
	Fields composer.ValidationErrors `json:"fields"`
}

func (h *Handler) writeComposerError(w http.ResponseWriter, c *composer.Composer, err error) {
	var (
		verrs     composer.ValidationErrors
		loadErr   *composer.CatalogLoadError
		submitErr *composer.SubmissionError
	)
	switch {
	case errors.As(err, &verrs):
		h.writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: "invalid order", Fields: verrs})
	case errors.Is(err, composer.ErrSubmitInFlight):
		h.writeError(w, http.StatusConflict, "order submission already in flight")
	case errors.Is(err, composer.ErrUnknownProduct):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, composer.ErrComposerClosed):
		h.writeError(w, http.StatusNotFound, "draft not found")
	case errors.As(err, &submitErr):
		h.writeError(w, http.StatusBadGateway, submitErr.Err.Error())
	case errors.As(err, &loadErr):
		h.writeError(w, http.StatusBadGateway, loadErr.Error())
	default:
		h.logger.Error("draft operation failed", "error", err, "draft_id", c.ID())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
