package handler_test

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/stripe/stripe-go/v84"

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/auth"
    "github.com/iliyamo/carmod-studio/internal/handler"
    "github.com/iliyamo/carmod-studio/internal/middleware"
    "github.com/iliyamo/carmod-studio/internal/model"
    "github.com/iliyamo/carmod-studio/internal/repository"
    "github.com/iliyamo/carmod-studio/internal/router"
    "github.com/iliyamo/carmod-studio/internal/scope"
    "github.com/iliyamo/carmod-studio/internal/service"
    "github.com/iliyamo/carmod-studio/internal/utils"
)

const secret = "handler-secret"

type directory map[uint64]model.User

func (d directory) GetByID(_ context.Context, id uint64) (model.User, error) {
    if u, ok := d[id]; ok {
        return u, nil
    }
    return model.User{}, repository.ErrNotFound
}

func ref(v uint64) *uint64 { return &v }

var people = directory{
    1:   {ID: 1, Role: model.RoleAdmin, IsActive: true},
    2:   {ID: 2, Role: model.RoleAdmin, IsActive: true},
    10:  {ID: 10, Role: model.RoleOperator, AdminID: ref(1), IsActive: true},
    30:  {ID: 30, Role: model.RoleOperator, IsActive: true},
    100: {ID: 100, Role: model.RoleProvider, IsActive: true},
}

type shelf struct {
    mu     sync.Mutex
    nextID uint64
    items  map[uint64]model.InventoryItem
}

func (s *shelf) List(_ context.Context, f scope.Filter, _ repository.InventoryQuery) ([]model.InventoryItem, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := []model.InventoryItem{}
    for id := uint64(1); id <= s.nextID; id++ {
        if it, ok := s.items[id]; ok && f.Allows(it.AdminID) {
            out = append(out, it)
        }
    }
    return out, nil
}

func (s *shelf) GetByID(_ context.Context, id uint64) (model.InventoryItem, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    it, ok := s.items[id]
    if !ok {
        return model.InventoryItem{}, repository.ErrNotFound
    }
    return it, nil
}

func (s *shelf) Create(_ context.Context, it *model.InventoryItem) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nextID++
    it.ID = s.nextID
    s.items[it.ID] = *it
    return nil
}

func (s *shelf) Update(_ context.Context, id, adminID uint64, p model.InventoryPatch) (model.InventoryItem, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    it, ok := s.items[id]
    if !ok {
        return model.InventoryItem{}, repository.ErrNotFound
    }
    if it.AdminID != adminID {
        return model.InventoryItem{}, repository.ErrForbidden
    }
    it = p.Apply(it)
    s.items[id] = it
    return it, nil
}

func (s *shelf) Delete(_ context.Context, id, adminID uint64) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    it, ok := s.items[id]
    if !ok {
        return repository.ErrNotFound
    }
    if it.AdminID != adminID {
        return repository.ErrForbidden
    }
    delete(s.items, id)
    return nil
}

type reply struct {
    Success bool            `json:"success"`
    Message string          `json:"message"`
    Code    string          `json:"code"`
    Data    json.RawMessage `json:"data"`
    Details map[string]any  `json:"details"`
}

type api struct {
    t *testing.T
    e *echo.Echo
}

func newInventoryAPI(t *testing.T) api {
    e := echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    authn := middleware.Authenticate(secret, auth.NewResolver(people))
    store := &shelf{items: map[uint64]model.InventoryItem{}}
    router.RegisterInventory(e, handler.NewInventoryHandler(service.NewInventoryService(store)), authn)
    return api{t: t, e: e}
}

func (a api) do(method, path string, userID uint64, body string) (int, reply) {
    a.t.Helper()
    req := httptest.NewRequest(method, path, strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    if u, ok := people[userID]; ok {
        tok, err := utils.NewAccessToken(secret, u.ID, string(u.Role), 5)
        require.NoError(a.t, err)
        req.Header.Set("Authorization", "Bearer "+tok.Token)
    }
    rec := httptest.NewRecorder()
    a.e.ServeHTTP(rec, req)
    var r reply
    require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
    return rec.Code, r
}

func TestInventoryTenantIsolation(t *testing.T) {
    a := newInventoryAPI(t)

    status, r := a.do(http.MethodPost, "/v1/inventory", 1,
        `{"name":"Spoiler","quantity":5,"available":3,"category":"aero","price":"199.99"}`)
    require.Equal(t, http.StatusCreated, status, r.Message)
    var item model.InventoryItem
    require.NoError(t, json.Unmarshal(r.Data, &item))
    assert.Equal(t, uint64(1), item.AdminID)
    assert.Equal(t, model.DefaultInventoryImage, item.Image)

    // another admin can neither read nor change it
    status, r = a.do(http.MethodGet, "/v1/inventory/1", 2, "")
    assert.Equal(t, http.StatusForbidden, status)
    assert.Equal(t, "FORBIDDEN", r.Code)
    assert.False(t, r.Success)

    status, _ = a.do(http.MethodPatch, "/v1/inventory/1", 2, `{"available":1}`)
    assert.Equal(t, http.StatusForbidden, status)
    status, _ = a.do(http.MethodDelete, "/v1/inventory/1", 2, "")
    assert.Equal(t, http.StatusForbidden, status)

    // and its list stays empty, whatever adminId it asks for
    status, r = a.do(http.MethodGet, "/v1/inventory?adminId=1", 2, "")
    require.Equal(t, http.StatusOK, status)
    assert.JSONEq(t, `[]`, string(r.Data))

    // the owner's operator sees it, the provider sees it
    for _, viewer := range []uint64{10, 100} {
        status, r = a.do(http.MethodGet, "/v1/inventory", viewer, "")
        require.Equal(t, http.StatusOK, status)
        var items []model.InventoryItem
        require.NoError(t, json.Unmarshal(r.Data, &items))
        assert.Len(t, items, 1, "viewer %d", viewer)
    }

    // operators cannot write
    status, _ = a.do(http.MethodPatch, "/v1/inventory/1", 10, `{"available":1}`)
    assert.Equal(t, http.StatusForbidden, status)

    status, r = a.do(http.MethodGet, "/v1/inventory", 30, "")
    assert.Equal(t, http.StatusBadRequest, status)
    assert.Equal(t, "UNSCOPED_OPERATOR", r.Code)
}

func TestInventoryValidationEnvelope(t *testing.T) {
    a := newInventoryAPI(t)

    status, r := a.do(http.MethodPost, "/v1/inventory", 1,
        `{"name":"Spoiler","quantity":2,"available":3,"category":"aero","price":"10"}`)
    assert.Equal(t, http.StatusBadRequest, status)
    assert.Equal(t, "VALIDATION_ERROR", r.Code)
    assert.Contains(t, r.Details, "available")

    status, r = a.do(http.MethodGet, "/v1/inventory/abc", 1, "")
    assert.Equal(t, http.StatusBadRequest, status)
    assert.Equal(t, "VALIDATION_ERROR", r.Code)

    status, r = a.do(http.MethodGet, "/v1/inventory/42", 1, "")
    assert.Equal(t, http.StatusNotFound, status)
    assert.Equal(t, "NOT_FOUND", r.Code)
}

func TestUnauthenticatedRequests(t *testing.T) {
    a := newInventoryAPI(t)

    status, r := a.do(http.MethodGet, "/v1/inventory", 0, "")
    assert.Equal(t, http.StatusUnauthorized, status)
    assert.Equal(t, "UNAUTHENTICATED", r.Code)

    ghost, err := utils.NewAccessToken(secret, 999, "admin", 5)
    require.NoError(t, err)
    req := httptest.NewRequest(http.MethodGet, "/v1/inventory", nil)
    req.Header.Set("Authorization", "Bearer "+ghost.Token)
    rec := httptest.NewRecorder()
    a.e.ServeHTTP(rec, req)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    assert.Contains(t, rec.Body.String(), "PRINCIPAL_NOT_FOUND")
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
    e := echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    e.GET("/boom", func(echo.Context) error { return errors.New("dial tcp 10.0.0.5:3306: refused") })
    e.GET("/pay", func(echo.Context) error {
        return apperr.Wrap(apperr.CodePaymentUnavailable, errors.New("stripe: 500"), "stripe down")
    })

    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
    assert.Equal(t, http.StatusInternalServerError, rec.Code)
    assert.NotContains(t, rec.Body.String(), "10.0.0.5")
    assert.Contains(t, rec.Body.String(), "UPSTREAM_FAILURE")

    rec = httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay", nil))
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
    assert.NotContains(t, rec.Body.String(), "stripe down")

    rec = httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
    assert.Equal(t, http.StatusNotFound, rec.Code)
    assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

type fakeParser struct{ err error }

func (p fakeParser) ParseEvent(payload []byte, sig string) (stripe.Event, error) {
    if p.err != nil {
        return stripe.Event{}, p.err
    }
    var ev stripe.Event
    if err := json.Unmarshal(payload, &ev); err != nil {
        return stripe.Event{}, err
    }
    return ev, nil
}

type fakeGuard struct{ seen map[string]bool }

func (g *fakeGuard) CheckAndMark(_ context.Context, id string) (bool, error) {
    if g.seen[id] {
        return true, nil
    }
    g.seen[id] = true
    return false, nil
}

func (g *fakeGuard) Delete(_ context.Context, id string) error {
    delete(g.seen, id)
    return nil
}

type countingEvents struct {
    calls int
    err   error
}

func (c *countingEvents) HandleEvent(context.Context, *stripe.Event) error {
    c.calls++
    return c.err
}

func postWebhook(e *echo.Echo, sig, body string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(body))
    if sig != "" {
        req.Header.Set("Stripe-Signature", sig)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestStripeWebhookDedupesDeliveries(t *testing.T) {
    events := &countingEvents{}
    guard := &fakeGuard{seen: map[string]bool{}}
    e := echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    router.RegisterWebhooks(e, handler.NewWebhookHandler(events, fakeParser{}, guard))

    body := `{"id":"evt_1","type":"payment_intent.succeeded"}`
    assert.Equal(t, http.StatusOK, postWebhook(e, "t=1,v1=x", body).Code)
    assert.Equal(t, http.StatusOK, postWebhook(e, "t=1,v1=x", body).Code)
    assert.Equal(t, 1, events.calls, "a redelivered event is acknowledged without handling")

    assert.Equal(t, http.StatusBadRequest, postWebhook(e, "", body).Code)
}

func TestStripeWebhookFailureAllowsRetry(t *testing.T) {
    events := &countingEvents{err: apperr.New(apperr.CodeUpstream, "db down")}
    guard := &fakeGuard{seen: map[string]bool{}}
    e := echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    router.RegisterWebhooks(e, handler.NewWebhookHandler(events, fakeParser{}, guard))

    body := `{"id":"evt_2","type":"payment_intent.succeeded"}`
    assert.Equal(t, http.StatusInternalServerError, postWebhook(e, "t=1,v1=x", body).Code)
    assert.False(t, guard.seen["evt_2"])

    events.err = nil
    assert.Equal(t, http.StatusOK, postWebhook(e, "t=1,v1=x", body).Code)
    assert.Equal(t, 2, events.calls)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
    events := &countingEvents{}
    e := echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    router.RegisterWebhooks(e, handler.NewWebhookHandler(events, fakeParser{err: errors.New("bad sig")}, nil))

    rec := postWebhook(e, "t=1,v1=x", `{"id":"evt_3"}`)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Zero(t, events.calls)

    e = echo.New()
    e.HTTPErrorHandler = handler.ErrorHandler
    router.RegisterWebhooks(e, handler.NewWebhookHandler(nil, nil, nil))
    assert.Equal(t, http.StatusServiceUnavailable, postWebhook(e, "t=1,v1=x", `{}`).Code)
}
