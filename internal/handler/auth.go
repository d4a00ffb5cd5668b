package handler

import (
    "context" // provides context with cancellation for DB calls
    "net/http"
    "strings"
    "time" // timeouts for DB calls

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/iliyamo/carmod-studio/internal/model"
    "github.com/iliyamo/carmod-studio/internal/service"
    "github.com/iliyamo/carmod-studio/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Auth      *service.AuthService
    JWTSecret string
}

func NewAuthHandler(a *service.AuthService, jwtSecret string) *AuthHandler {
    return &AuthHandler{Auth: a, JWTSecret: jwtSecret}
}

// ----- DTOs -----

type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}
type userPart struct {
    ID         uint64     `json:"id"`
    Name       string     `json:"name"`
    Email      string     `json:"email"`
    Role       model.Role `json:"role"`
    AdminID    *uint64    `json:"admin_id,omitempty"`
    CentreName string     `json:"centre_name,omitempty"`
}
type authResp struct {
    User    userPart   `json:"user"`
    Access  *tokenPart `json:"access,omitempty"`
    Refresh *tokenPart `json:"refresh,omitempty"`
}

func sessionResp(s service.Session) authResp {
    out := authResp{User: userPart{
        ID: s.User.ID, Name: s.User.Name, Email: s.User.Email, Role: s.User.Role,
        AdminID: s.User.AdminID, CentreName: s.User.CentreName,
    }}
    if s.Access != nil {
        out.Access = &tokenPart{Token: s.Access.Token, Expires: s.Access.Exp}
    }
    if s.Refresh != nil {
        out.Refresh = &tokenPart{Token: s.Refresh.Raw, Expires: s.Refresh.Exp} // raw back to client
    }
    return out
}

// Register opens a new centre and its admin account.
func (h *AuthHandler) Register(c echo.Context) error {
    var req service.RegisterInput
    if err := bind(c, &req); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    s, err := h.Auth.Register(ctx, req)
    if err != nil {
        return err
    }
    if s.Access == nil {
        return okMessage(c, http.StatusCreated, "account created, verify your email before logging in", sessionResp(s))
    }
    return ok(c, http.StatusCreated, sessionResp(s))
}

// Login: verify and return new pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := bind(c, &req); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    s, err := h.Auth.Login(ctx, req.Email, req.Password)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, sessionResp(s))
}

// Refresh: exchange a refresh token for a rotated pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := bind(c, &req); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    s, err := h.Auth.Refresh(ctx, req.RefreshToken)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, sessionResp(s))
}

// Logout revokes the refresh token in the body, or every session of the
// bearer when the body is empty.  It runs without the auth middleware so an
// expired access token does not prevent logging out.
func (h *AuthHandler) Logout(c echo.Context) error {
    var uid uint64
    if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
        if claims, err := utils.ParseAccessToken(h.JWTSecret, strings.TrimPrefix(header, "Bearer ")); err == nil {
            uid, _ = claims.UserID()
        }
    }
    var req refreshReq
    _ = c.Bind(&req) // an empty body is fine when a bearer is present

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Auth.Logout(ctx, uid, req.RefreshToken); err != nil {
        return err
    }
    return c.NoContent(http.StatusNoContent)
}

// Me returns the resolved caller.
func (h *AuthHandler) Me(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, echo.Map{
        "user_id":  p.UserID,
        "role":     p.Role,
        "admin_id": p.AdminID,
        "email":    p.Email,
    })
}
