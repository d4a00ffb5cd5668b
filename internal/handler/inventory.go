package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/carmod-studio/internal/model"
    "github.com/iliyamo/carmod-studio/internal/repository"
    "github.com/iliyamo/carmod-studio/internal/service"
)

type InventoryHandler struct {
    Inventory *service.InventoryService
}

func NewInventoryHandler(s *service.InventoryService) *InventoryHandler {
    if s == nil {
        panic("nil inventory service passed to NewInventoryHandler")
    }
    return &InventoryHandler{Inventory: s}
}

// List: GET /v1/inventory?adminId=&category=&search=
// adminId only narrows the provider's view.
func (h *InventoryHandler) List(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    owner, err := queryID(c, "adminId")
    if err != nil {
        return err
    }
    q := repository.InventoryQuery{Category: c.QueryParam("category"), Search: c.QueryParam("search")}

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    items, err := h.Inventory.List(ctx, p, owner, q)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, items)
}

func (h *InventoryHandler) Get(c echo.Context) error {
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
    it, err := h.Inventory.Get(ctx, p, id)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, it)
}

func (h *InventoryHandler) Create(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    var in service.InventoryInput
    if err := bind(c, &in); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    it, err := h.Inventory.Create(ctx, p, in)
    if err != nil {
        return err
    }
    return ok(c, http.StatusCreated, it)
}

// Update serves both PUT and PATCH; absent fields keep their value.
func (h *InventoryHandler) Update(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    id, err := pathID(c, "id")
    if err != nil {
        return err
    }
    var patch model.InventoryPatch
    if err := bind(c, &patch); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    it, err := h.Inventory.Update(ctx, p, id, patch)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, it)
}

func (h *InventoryHandler) Delete(c echo.Context) error {
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
    if err := h.Inventory.Delete(ctx, p, id); err != nil {
        return err
    }
    return okMessage(c, http.StatusOK, "inventory item deleted", nil)
}
