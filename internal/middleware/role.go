package middleware // middleware provides shared request processing for handlers

import (
    "github.com/labstack/echo/v4" // echo provides middleware chaining and context

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/model"
)

// RequireRole aborts with FORBIDDEN unless the resolved principal holds one
// of roles.  It must run after Authenticate.  Finer ownership checks stay in
// the services.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
    allowed := make(map[model.Role]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            p, ok := PrincipalFrom(c)
            if !ok {
                return apperr.New(apperr.CodeUnauthenticated, "authentication required")
            }
            if !allowed[p.Role] {
                return apperr.Forbidden("role " + string(p.Role) + " may not access this resource")
            }
            return next(c)
        }
    }
}
