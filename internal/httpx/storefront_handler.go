package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/grouping"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/ariefcatur/go-pickup-slots/internal/storefront"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Storefront is the part of storefront.Service the handlers use.
type Storefront interface {
	Horizon(ctx context.Context) (storefront.HorizonView, error)
	Listing(ctx context.Context, q storefront.ListQuery) ([]storefront.Listed, error)
	AdjustDraft(ctx context.Context, productID, op string, qty int) (int, error)

	Reserve(ctx context.Context, productID string, qty *int, pickup catalog.Date) (reservation.Reservation, error)
	Reservation(ctx context.Context, id string) (storefront.ReservationView, error)
	Options(ctx context.Context, id string) (reservation.Options, error)
	ChooseSelfPickup(ctx context.Context, id string) (storefront.ReservationView, error)
	ChooseDelivery(ctx context.Context, id string) (storefront.ReservationView, error)
	Cancel(ctx context.Context, id string) error

	Groupings() []storefront.GroupingView
	CreateCategory(ctx context.Context, name string) (catalog.Category, error)
	RenameCategory(ctx context.Context, id, name string) (catalog.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	ReorderCategories(ctx context.Context, ids []string) error
	MoveCategory(ctx context.Context, id string, to int) error
	Members(ctx context.Context, id string) ([]string, error)
	ReplaceMembers(ctx context.Context, id string, productIDs []string) (grouping.Change, error)
}

type StorefrontHandler struct {
	Svc Storefront
	Log *zap.Logger
}

type draftReq struct {
	Op  string `json:"op"`
	Qty int    `json:"qty"`
}

type reserveReq struct {
	ProductID  string       `json:"product_id"`
	Quantity   *int         `json:"quantity"`
	PickupDate catalog.Date `json:"pickup_date"`
}

type nameReq struct {
	Name string `json:"name"`
}

type orderReq struct {
	IDs []string `json:"ids"`
}

type moveReq struct {
	Index *int `json:"index"`
}

type membersReq struct {
	ProductIDs []string `json:"product_ids"`
}

func (h *StorefrontHandler) Register(r chi.Router) {
	r.Get("/horizon", h.horizon)
	r.Get("/products", h.listProducts)

	r.Group(func(r chi.Router) {
		r.Use(requireAccount)
		r.Put("/drafts/{productID}", h.adjustDraft)
		r.Post("/reservations", h.reserve)
		r.Get("/reservations/{id}", h.getReservation)
		r.Get("/reservations/{id}/options", h.options)
		r.Post("/reservations/{id}/self-pickup", h.selfPickup)
		r.Post("/reservations/{id}/delivery", h.delivery)
		r.Delete("/reservations/{id}", h.cancel)
	})

	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
		r.Put("/order", h.reorderCategories)
		r.Patch("/{id}", h.renameCategory)
		r.Delete("/{id}", h.deleteCategory)
		r.Post("/{id}/move", h.moveCategory)
		r.Get("/{id}/members", h.members)
		r.Put("/{id}/members", h.replaceMembers)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrReserved):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrEligibilityDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrLocked),
		errors.Is(err, apperr.ErrAlreadyChosen),
		errors.Is(err, apperr.ErrNotOrderable),
		errors.Is(err, apperr.ErrSubmitInFlight):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrBoundary):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *StorefrontHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	body := map[string]string{"error": err.Error()}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	if code >= http.StatusInternalServerError && h.Log != nil {
		h.Log.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, body)
}

func (h *StorefrontHandler) horizon(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.Horizon(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *StorefrontHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := storefront.ListQuery{
		Term:     r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
	}
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := catalog.ParseDate(s)
		if err != nil {
			h.fail(w, r, apperr.Invalid("date", "must be YYYY-MM-DD"))
			return
		}
		q.Date = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ls, err := h.Svc.Listing(ctx, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (h *StorefrontHandler) adjustDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decode(w, r, &req) {
		return
	}
	q, err := h.Svc.AdjustDraft(r.Context(), chi.URLParam(r, "productID"), req.Op, req.Qty)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"quantity": q})
}

func (h *StorefrontHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" || req.PickupDate.IsZero() {
		h.fail(w, r, apperr.Invalid("product_id", "product_id and pickup_date are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.Reserve(ctx, req.ProductID, req.Quantity, req.PickupDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *StorefrontHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.Reservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *StorefrontHandler) options(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.Options(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *StorefrontHandler) selfPickup(w http.ResponseWriter, r *http.Request) {
	h.choose(w, r, h.Svc.ChooseSelfPickup)
}

func (h *StorefrontHandler) delivery(w http.ResponseWriter, r *http.Request) {
	h.choose(w, r, h.Svc.ChooseDelivery)
}

func (h *StorefrontHandler) choose(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (storefront.ReservationView, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := fn(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *StorefrontHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- categories ----

func (h *StorefrontHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Svc.Groupings())
}

func (h *StorefrontHandler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req nameReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *StorefrontHandler) renameCategory(w http.ResponseWriter, r *http.Request) {
	var req nameReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.RenameCategory(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *StorefrontHandler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StorefrontHandler) reorderCategories(w http.ResponseWriter, r *http.Request) {
	var req orderReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Svc.ReorderCategories(r.Context(), req.IDs); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.Groupings())
}

func (h *StorefrontHandler) moveCategory(w http.ResponseWriter, r *http.Request) {
	var req moveReq
	if !decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		h.fail(w, r, apperr.Invalid("index", "required"))
		return
	}
	if err := h.Svc.MoveCategory(r.Context(), chi.URLParam(r, "id"), *req.Index); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.Groupings())
}

func (h *StorefrontHandler) members(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Svc.Members(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"product_ids": ids})
}

func (h *StorefrontHandler) replaceMembers(w http.ResponseWriter, r *http.Request) {
	var req membersReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductIDs == nil {
		req.ProductIDs = []string{}
	}
	change, err := h.Svc.ReplaceMembers(r.Context(), chi.URLParam(r, "id"), req.ProductIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}
