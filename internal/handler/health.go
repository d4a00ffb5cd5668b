package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// Health reports liveness.  When DB is set the database must answer a ping
// within two seconds.
type Health struct {
    DB Pinger
}

func (h Health) Check(c echo.Context) error {
    if h.DB == nil {
        return c.String(http.StatusOK, "ok")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()
    if err := h.DB.PingContext(ctx); err != nil {
        return c.String(http.StatusServiceUnavailable, "database unavailable")
    }
    return c.String(http.StatusOK, "ok")
}
