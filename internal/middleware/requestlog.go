package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/iliyamo/carmod-studio/internal/auth"
    "github.com/iliyamo/carmod-studio/internal/logger"
    "github.com/iliyamo/carmod-studio/internal/metrics"
)

const headerRequestID = "X-Request-Id"

// RequestLogger tags every request with an X-Request-Id, carries a child of
// base in the request context and writes one access line per request.  HTTP
// metrics are recorded on the way out when m is non-nil.
func RequestLogger(base zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            rid := req.Header.Get(headerRequestID)
            if rid == "" || len(rid) > 64 {
                rid = uuid.NewString()
            }
            c.Response().Header().Set(headerRequestID, rid)

            l := base.With().Str("request_id", rid).Logger()
            c.SetRequest(req.WithContext(l.WithContext(req.Context())))

            start := time.Now()
            err := next(c)
            if err != nil {
                // let the error handler write the response so the status is known
                c.Error(err)
            }
            elapsed := time.Since(start)
            status := c.Response().Status

            m.ObserveHTTP(c.Path(), req.Method, status, elapsed)

            ev := logger.From(c.Request().Context()).Info()
            if status >= 500 {
                ev = logger.From(c.Request().Context()).Error().Err(err)
            }
            ev.Str("method", req.Method).
                Str("path", req.URL.Path).
                Int("status", status).
                Dur("latency", elapsed).
                Str("user_id", userKey(c)).
                Msg("request")
            return nil
        }
    }
}

// withUser attaches the principal to the request logger.
func withUser(c echo.Context, p auth.Principal) {
    ctx := c.Request().Context()
    l := logger.From(ctx).With().Uint64("user_id", p.UserID).Str("role", string(p.Role)).Logger()
    c.SetRequest(c.Request().WithContext(l.WithContext(ctx)))
}
