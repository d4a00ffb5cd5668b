package middleware

// identity.go holds the request identity helpers shared by the rate limiter
// and the response cache.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// userKey identifies the caller for bucketing: the principal id when
// authenticated, the verified token subject otherwise, else "anon".
func userKey(c echo.Context) string {
    if p, ok := PrincipalFrom(c); ok {
        return strconv.FormatUint(p.UserID, 10)
    }
    if id, ok := c.Get(ctxUserID).(uint64); ok && id != 0 {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
