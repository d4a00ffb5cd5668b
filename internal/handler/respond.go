package handler

import (
    "errors"
    "net/http"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/auth"
    "github.com/iliyamo/carmod-studio/internal/logger"
    "github.com/iliyamo/carmod-studio/internal/middleware"
)

// envelope is the body of every JSON response.
type envelope struct {
    Success bool   `json:"success"`
    Message string `json:"message,omitempty"`
    Data    any    `json:"data,omitempty"`
    Code    string `json:"code,omitempty"`
    Details any    `json:"details,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
    return c.JSON(status, envelope{Success: true, Data: data})
}

func okMessage(c echo.Context, status int, message string, data any) error {
    return c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

// ErrorHandler renders errors returned by handlers and middleware.  Echo's
// own errors (unknown route, oversized body) are mapped onto the same codes.
func ErrorHandler(err error, c echo.Context) {
    if c.Response().Committed {
        return
    }
    typed := apperr.As(err)
    if typed == nil {
        typed = fromEcho(err)
    }
    meta := apperr.MetadataFor(typed.Code())
    body := envelope{Code: string(typed.Code()), Message: apperr.PublicMessage(typed)}
    if meta.DetailsAllowed {
        body.Details = typed.Details()
    }

    l := logger.From(c.Request().Context())
    if meta.HTTPStatus >= 500 {
        l.Error().Err(err).Str("code", string(typed.Code())).Msg("request failed")
    } else {
        l.Debug().Err(err).Str("code", string(typed.Code())).Msg("request rejected")
    }

    if c.Request().Method == http.MethodHead {
        _ = c.NoContent(meta.HTTPStatus)
        return
    }
    _ = c.JSON(meta.HTTPStatus, body)
}

func fromEcho(err error) *apperr.Error {
    var he *echo.HTTPError
    if !errors.As(err, &he) {
        return apperr.Wrap(apperr.CodeUpstream, err, "unexpected error")
    }
    msg := http.StatusText(he.Code)
    if s, isStr := he.Message.(string); isStr {
        msg = s
    }
    switch he.Code {
    case http.StatusNotFound, http.StatusMethodNotAllowed:
        return apperr.NotFound(msg)
    case http.StatusRequestEntityTooLarge:
        return apperr.Validation("request body too large")
    case http.StatusUnauthorized:
        return apperr.New(apperr.CodeUnauthenticated, msg)
    case http.StatusForbidden:
        return apperr.Forbidden(msg)
    case http.StatusTooManyRequests:
        return apperr.New(apperr.CodeRateLimit, msg)
    }
    if he.Code >= 400 && he.Code < 500 {
        return apperr.Validation(msg)
    }
    return apperr.Wrap(apperr.CodeUpstream, err, msg)
}

// principal returns the caller resolved by middleware.Authenticate.
func principal(c echo.Context) (auth.Principal, error) {
    p, found := middleware.PrincipalFrom(c)
    if !found {
        return auth.Principal{}, apperr.New(apperr.CodeUnauthenticated, "authentication required")
    }
    return p, nil
}

// bind decodes the JSON body into v.
func bind(c echo.Context, v any) error {
    if err := c.Bind(v); err != nil {
        return apperr.Validation("invalid request body")
    }
    return nil
}

// bindBody decodes only the request body, leaving path and query
// parameters out of free-form maps.
func bindBody(c echo.Context, v any) error {
    if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
        return apperr.Validation("invalid request body")
    }
    return nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
    id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
    if err != nil || id == 0 {
        return 0, apperr.Validation("invalid " + name)
    }
    return id, nil
}

// queryID parses an optional numeric query parameter.
func queryID(c echo.Context, name string) (*uint64, error) {
    raw := strings.TrimSpace(c.QueryParam(name))
    if raw == "" {
        return nil, nil
    }
    id, err := strconv.ParseUint(raw, 10, 64)
    if err != nil || id == 0 {
        return nil, apperr.Validation("invalid " + name)
    }
    return &id, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
    raw := strings.TrimSpace(c.QueryParam(name))
    if raw == "" {
        return def, nil
    }
    n, err := strconv.Atoi(raw)
    if err != nil || n < 0 {
        return 0, apperr.Validation("invalid " + name)
    }
    return n, nil
}
