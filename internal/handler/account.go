package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/carmod-studio/internal/service"
)

// AccountHandler serves operator and admin account management.
type AccountHandler struct {
    Accounts *service.AccountService
}

func NewAccountHandler(s *service.AccountService) *AccountHandler {
    return &AccountHandler{Accounts: s}
}

// ListOperators: GET /v1/operator?adminId=
func (h *AccountHandler) ListOperators(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    adminID, err := queryID(c, "adminId")
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    ops, err := h.Accounts.ListOperators(ctx, p, adminID)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, ops)
}

func (h *AccountHandler) CreateOperator(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    var in service.OperatorInput
    if err := bind(c, &in); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    op, err := h.Accounts.CreateOperator(ctx, p, in)
    if err != nil {
        return err
    }
    return ok(c, http.StatusCreated, op)
}

func (h *AccountHandler) GetOperator(c echo.Context) error {
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
    op, err := h.Accounts.GetOperator(ctx, p, id)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, op)
}

// UpdateOperator takes a free-form body; the service applies its allow-list.
func (h *AccountHandler) UpdateOperator(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    id, err := pathID(c, "id")
    if err != nil {
        return err
    }
    fields := map[string]any{}
    if err := bindBody(c, &fields); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    op, err := h.Accounts.UpdateOperator(ctx, p, id, fields)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, op)
}

func (h *AccountHandler) DeleteOperator(c echo.Context) error {
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
    if err := h.Accounts.DeleteOperator(ctx, p, id); err != nil {
        return err
    }
    return okMessage(c, http.StatusOK, "operator deleted", nil)
}

func (h *AccountHandler) ListAdmins(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    admins, err := h.Accounts.ListAdmins(ctx, p)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, admins)
}

func (h *AccountHandler) GetAdmin(c echo.Context) error {
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
    a, err := h.Accounts.GetAdmin(ctx, p, id)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, a)
}

func (h *AccountHandler) UpdateAdmin(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    id, err := pathID(c, "id")
    if err != nil {
        return err
    }
    fields := map[string]any{}
    if err := bindBody(c, &fields); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    a, err := h.Accounts.UpdateAdmin(ctx, p, id, fields)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, a)
}

func (h *AccountHandler) DeleteAdmin(c echo.Context) error {
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
    if err := h.Accounts.DeleteAdmin(ctx, p, id); err != nil {
        return err
    }
    return okMessage(c, http.StatusOK, "admin deleted", nil)
}
