package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/grouping"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/ariefcatur/go-pickup-slots/internal/storefront"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStorefront: a nil XxxFunc returns zero values.
type MockStorefront struct {
	HorizonFunc        func(ctx context.Context) (storefront.HorizonView, error)
	ListingFunc        func(ctx context.Context, q storefront.ListQuery) ([]storefront.Listed, error)
	AdjustDraftFunc    func(ctx context.Context, productID, op string, qty int) (int, error)
	ReserveFunc        func(ctx context.Context, productID string, qty *int, pickup catalog.Date) (reservation.Reservation, error)
	SelfPickupFunc     func(ctx context.Context, id string) (storefront.ReservationView, error)
	CancelFunc         func(ctx context.Context, id string) error
	CreateCategoryFunc func(ctx context.Context, name string) (catalog.Category, error)
	MoveCategoryFunc   func(ctx context.Context, id string, to int) error
	ReplaceMembersFunc func(ctx context.Context, id string, productIDs []string) (grouping.Change, error)
}

func (m *MockStorefront) Horizon(ctx context.Context) (storefront.HorizonView, error) {
	if m.HorizonFunc != nil {
		return m.HorizonFunc(ctx)
	}
	return storefront.HorizonView{Days: []storefront.DaySummary{{Date: catalog.Date{Year: 2026, Month: time.June, Day: 3}, Products: 2}}}, nil
}

func (m *MockStorefront) Listing(ctx context.Context, q storefront.ListQuery) ([]storefront.Listed, error) {
	if m.ListingFunc != nil {
		return m.ListingFunc(ctx, q)
	}
	return nil, nil
}

func (m *MockStorefront) AdjustDraft(ctx context.Context, productID, op string, qty int) (int, error) {
	if m.AdjustDraftFunc != nil {
		return m.AdjustDraftFunc(ctx, productID, op, qty)
	}
	return 0, nil
}

func (m *MockStorefront) Reserve(ctx context.Context, productID string, qty *int, pickup catalog.Date) (reservation.Reservation, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, productID, qty, pickup)
	}
	return reservation.Reservation{}, nil
}

func (m *MockStorefront) Reservation(context.Context, string) (storefront.ReservationView, error) {
	return storefront.ReservationView{}, apperr.ErrNotFound
}

func (m *MockStorefront) Options(context.Context, string) (reservation.Options, error) {
	return reservation.Options{SelfPickup: true}, nil
}

func (m *MockStorefront) ChooseSelfPickup(ctx context.Context, id string) (storefront.ReservationView, error) {
	if m.SelfPickupFunc != nil {
		return m.SelfPickupFunc(ctx, id)
	}
	return storefront.ReservationView{}, nil
}

func (m *MockStorefront) ChooseDelivery(context.Context, string) (storefront.ReservationView, error) {
	return storefront.ReservationView{}, apperr.ErrEligibilityDenied
}

func (m *MockStorefront) Cancel(ctx context.Context, id string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return nil
}

func (m *MockStorefront) Groupings() []storefront.GroupingView {
	return []storefront.GroupingView{{ID: catalog.RecommendedID, Name: catalog.RecommendedID, Recommended: true}}
}

func (m *MockStorefront) CreateCategory(ctx context.Context, name string) (catalog.Category, error) {
	if m.CreateCategoryFunc != nil {
		return m.CreateCategoryFunc(ctx, name)
	}
	return catalog.Category{}, nil
}

func (m *MockStorefront) RenameCategory(context.Context, string, string) (catalog.Category, error) {
	return catalog.Category{}, apperr.ErrReserved
}

func (m *MockStorefront) DeleteCategory(context.Context, string) error { return nil }

func (m *MockStorefront) ReorderCategories(context.Context, []string) error { return nil }

func (m *MockStorefront) MoveCategory(ctx context.Context, id string, to int) error {
	if m.MoveCategoryFunc != nil {
		return m.MoveCategoryFunc(ctx, id, to)
	}
	return nil
}

func (m *MockStorefront) Members(context.Context, string) ([]string, error) {
	return []string{"p1"}, nil
}

func (m *MockStorefront) ReplaceMembers(ctx context.Context, id string, productIDs []string) (grouping.Change, error) {
	if m.ReplaceMembersFunc != nil {
		return m.ReplaceMembersFunc(ctx, id, productIDs)
	}
	return grouping.Change{}, nil
}

func newServer(m *MockStorefront) *httptest.Server {
	r := NewRouter()
	(&StorefrontHandler{Svc: m}).Register(r)
	return httptest.NewServer(r)
}

func do(t *testing.T, srv *httptest.Server, method, path, account, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if account != "" {
		req.Header.Set(HeaderAccountID, account)
	}
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	srv := newServer(&MockStorefront{})
	defer srv.Close()
	res := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHorizon(t *testing.T) {
	srv := newServer(&MockStorefront{})
	defer srv.Close()

	res := do(t, srv, http.MethodGet, "/horizon", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body struct {
		Days []struct {
			Date     string `json:"date"`
			Products int    `json:"products"`
		} `json:"days"`
	}
	decodeBody(t, res, &body)
	require.Len(t, body.Days, 1)
	assert.Equal(t, "2026-06-03", body.Days[0].Date)
}

func TestHorizon_RefreshFailure(t *testing.T) {
	m := &MockStorefront{HorizonFunc: func(context.Context) (storefront.HorizonView, error) {
		return storefront.HorizonView{}, apperr.Boundary("fetch products", errors.New("connection reset"))
	}}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodGet, "/horizon", "", "")
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestListProducts_PassesQuery(t *testing.T) {
	var got storefront.ListQuery
	m := &MockStorefront{ListingFunc: func(ctx context.Context, q storefront.ListQuery) ([]storefront.Listed, error) {
		got = q
		return []storefront.Listed{{
			Product:   catalog.Product{ID: "p2"},
			State:     window.StatePendingOpen,
			Countdown: "00:01",
		}}, nil
	}}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodGet, "/products?date=2026-06-04&q=bread&category=recommended", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, storefront.ListQuery{
		Date:     catalog.Date{Year: 2026, Month: time.June, Day: 4},
		Term:     "bread",
		Category: "recommended",
	}, got)

	var body []map[string]any
	decodeBody(t, res, &body)
	require.Len(t, body, 1)
	assert.Equal(t, "pending_open", body[0]["state"])
	assert.Equal(t, "00:01", body[0]["countdown"])
}

func TestListProducts_BadDate(t *testing.T) {
	srv := newServer(&MockStorefront{})
	defer srv.Close()
	res := do(t, srv, http.MethodGet, "/products?date=tomorrow", "", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDrafts_RequireAccount(t *testing.T) {
	srv := newServer(&MockStorefront{})
	defer srv.Close()
	res := do(t, srv, http.MethodPut, "/drafts/p1", "", `{"op":"inc"}`)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAdjustDraft_UsesAccount(t *testing.T) {
	var account string
	m := &MockStorefront{AdjustDraftFunc: func(ctx context.Context, productID, op string, qty int) (int, error) {
		account = reservation.AccountFromContext(ctx)
		assert.Equal(t, "p1", productID)
		assert.Equal(t, "set", op)
		return 3, nil
	}}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodPut, "/drafts/p1", "acc-1", `{"op":"set","qty":9}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]int
	decodeBody(t, res, &body)
	assert.Equal(t, 3, body["quantity"])
	assert.Equal(t, "acc-1", account)
}

func TestReserve(t *testing.T) {
	var gotQty *int
	m := &MockStorefront{ReserveFunc: func(ctx context.Context, productID string, qty *int, pickup catalog.Date) (reservation.Reservation, error) {
		gotQty = qty
		return reservation.Reservation{ID: "r-1", AccountID: "acc-1", Request: reservation.Request{ProductID: productID, PickupDate: pickup}}, nil
	}}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodPost, "/reservations", "acc-1", `{"product_id":"p1","pickup_date":"2026-06-03"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Nil(t, gotQty)

	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, "r-1", body["id"])
	assert.Equal(t, "2026-06-03", body["pickup_date"])
}

func TestReserve_MissingFields(t *testing.T) {
	srv := newServer(&MockStorefront{})
	defer srv.Close()
	res := do(t, srv, http.MethodPost, "/reservations", "acc-1", `{"product_id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.Invalid("quantity", "exceeds remaining stock"), http.StatusBadRequest},
		{apperr.ErrReserved, http.StatusBadRequest},
		{apperr.ErrEligibilityDenied, http.StatusForbidden},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrLocked, http.StatusConflict},
		{apperr.ErrAlreadyChosen, http.StatusConflict},
		{apperr.ErrNotOrderable, http.StatusConflict},
		{apperr.ErrSubmitInFlight, http.StatusConflict},
		{apperr.Boundary("submit reservation", errors.New("timeout")), http.StatusBadGateway},
		{apperr.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			m := &MockStorefront{SelfPickupFunc: func(context.Context, string) (storefront.ReservationView, error) {
				return storefront.ReservationView{}, tc.err
			}}
			srv := newServer(m)
			defer srv.Close()
			res := do(t, srv, http.MethodPost, "/reservations/r-1/self-pickup", "acc-1", "")
			assert.Equal(t, tc.code, res.StatusCode)
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	m := &MockStorefront{CreateCategoryFunc: func(context.Context, string) (catalog.Category, error) {
		return catalog.Category{}, apperr.Invalid("name", "must not contain whitespace")
	}}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodPost, "/categories", "", `{"name":"a b"}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	var body map[string]string
	decodeBody(t, res, &body)
	assert.Equal(t, "name", body["field"])
}

func TestCancel(t *testing.T) {
	var id string
	m := &MockStorefront{CancelFunc: func(_ context.Context, got string) error {
		id = got
		return nil
	}}
	srv := newServer(m)
	defer srv.Close()
	res := do(t, srv, http.MethodDelete, "/reservations/r-9", "acc-1", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "r-9", id)
}

func TestCategories_Routes(t *testing.T) {
	var movedTo int
	var replaced []string
	m := &MockStorefront{
		MoveCategoryFunc: func(_ context.Context, id string, to int) error {
			movedTo = to
			return nil
		},
		ReplaceMembersFunc: func(_ context.Context, id string, ids []string) (grouping.Change, error) {
			replaced = ids
			return grouping.Change{Added: []string{"p3"}}, nil
		},
	}
	srv := newServer(m)
	defer srv.Close()

	res := do(t, srv, http.MethodGet, "/categories", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = do(t, srv, http.MethodPut, "/categories/order", "", `{"ids":["a","b"]}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = do(t, srv, http.MethodPost, "/categories/a/move", "", `{"index":0}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, movedTo)

	res = do(t, srv, http.MethodPost, "/categories/a/move", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, srv, http.MethodPatch, "/categories/recommended", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, srv, http.MethodPut, "/categories/a/members", "", `{"product_ids":[]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []string{}, replaced)
	var change map[string][]string
	decodeBody(t, res, &change)
	assert.Equal(t, []string{"p3"}, change["added"])

	res = do(t, srv, http.MethodGet, "/categories/a/members", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
}
