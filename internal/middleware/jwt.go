package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "strings" // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/auth"
    "github.com/iliyamo/carmod-studio/internal/utils"
)

// Context keys set by the authentication middleware.
const (
    ctxUserID    = "user_id"
    ctxPrincipal = "principal"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the token subject under "user_id".  The role claim is not trusted;
// Authenticate reloads it from the user row.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            header := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(header, "Bearer ") {
                return apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
            }
            claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(header, "Bearer "))
            if err != nil {
                return apperr.New(apperr.CodeUnauthenticated, "invalid or expired token")
            }
            id, _ := claims.UserID()
            c.Set(ctxUserID, id)
            return next(c)
        }
    }
}

// Authenticate chains JWTAuth with principal resolution.  Handlers behind it
// read the caller with PrincipalFrom.
func Authenticate(secret string, resolver *auth.Resolver) echo.MiddlewareFunc {
    verify := JWTAuth(secret)
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return verify(func(c echo.Context) error {
            id, _ := c.Get(ctxUserID).(uint64)
            p, err := resolver.Resolve(c.Request().Context(), id)
            if err != nil {
                return err
            }
            c.Set(ctxPrincipal, p)
            withUser(c, p)
            return next(c)
        })
    }
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c echo.Context) (auth.Principal, bool) {
    p, ok := c.Get(ctxPrincipal).(auth.Principal)
    return p, ok
}
