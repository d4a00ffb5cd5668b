package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/carmod-studio/internal/service"
)

// CreditsHandler serves credit purchases, balances and the transaction
// history.
type CreditsHandler struct {
    Ledger *service.LedgerService
}

func NewCreditsHandler(l *service.LedgerService) *CreditsHandler {
    return &CreditsHandler{Ledger: l}
}

// CreateIntent: POST /v1/create-payment-intent {amount, credits}
func (h *CreditsHandler) CreateIntent(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    var in service.IntentInput
    if err := bind(c, &in); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()
    res, err := h.Ledger.CreateIntent(ctx, p, in)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, res)
}

// Buy: POST /v1/credits/buy.  Retrying a completed purchase returns the
// current balance without crediting again.
func (h *CreditsHandler) Buy(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    var in service.PurchaseInput
    if err := bind(c, &in); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()
    res, err := h.Ledger.Purchase(ctx, p, in)
    if err != nil {
        return err
    }
    if res.AlreadyProcessed {
        return okMessage(c, http.StatusOK, "purchase already processed", res)
    }
    return okMessage(c, http.StatusOK, "credits added", res)
}

func (h *CreditsHandler) Balance(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    bal, err := h.Ledger.Balance(ctx, p)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, echo.Map{"credit_balance": bal})
}

// ListTransactions: GET /v1/transactions?adminId=&page=&limit=
func (h *CreditsHandler) ListTransactions(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    owner, err := queryID(c, "adminId")
    if err != nil {
        return err
    }
    limit, err := queryInt(c, "limit", 20)
    if err != nil {
        return err
    }
    page, err := queryInt(c, "page", 1)
    if err != nil {
        return err
    }
    if page < 1 {
        page = 1
    }
    if limit == 0 {
        limit = 20
    } else if limit > 100 {
        limit = 100
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    txs, err := h.Ledger.ListTransactions(ctx, p, owner, limit, (page-1)*limit)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, txs)
}

func (h *CreditsHandler) GetTransaction(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    id, err := pathID(c, "id")
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    tx, err := h.Ledger.GetTransaction(ctx, p, id)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, tx)
}
