package handler

import (
    "context"
    "io"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stripe/stripe-go/v84"

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/logger"
)

// maxWebhookBytes matches the payload cap Stripe documents for events.
const maxWebhookBytes = 65536

type EventHandler interface {
    HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventParser verifies the Stripe-Signature header and decodes the event.
type EventParser interface {
    ParseEvent(payload []byte, signature string) (stripe.Event, error)
}

type EventGuard interface {
    CheckAndMark(ctx context.Context, eventID string) (bool, error)
    Delete(ctx context.Context, eventID string) error
}

// WebhookHandler receives Stripe events.  Guard is optional: without Redis
// every delivery reaches the ledger, whose transitions are idempotent.
type WebhookHandler struct {
    Events EventHandler
    Parser EventParser
    Guard  EventGuard
}

func NewWebhookHandler(events EventHandler, parser EventParser, guard EventGuard) *WebhookHandler {
    return &WebhookHandler{Events: events, Parser: parser, Guard: guard}
}

func (h *WebhookHandler) Stripe(c echo.Context) error {
    if h.Events == nil || h.Parser == nil {
        return apperr.New(apperr.CodePaymentUnavailable, "payments are not configured")
    }
    payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
    if err != nil {
        return apperr.Validation("unreadable request body")
    }
    sig := c.Request().Header.Get("Stripe-Signature")
    if sig == "" {
        return apperr.Validation("stripe signature missing")
    }
    event, err := h.Parser.ParseEvent(payload, sig)
    if err != nil {
        return apperr.Validation("invalid stripe signature")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()
    log := logger.From(ctx).With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

    if h.Guard != nil {
        seen, err := h.Guard.CheckAndMark(ctx, event.ID)
        if err != nil {
            log.Warn().Err(err).Msg("event guard unavailable, handling without it")
        } else if seen {
            log.Debug().Msg("stripe event already processed")
            return okMessage(c, http.StatusOK, "event already processed", nil)
        }
    }
    if err := h.Events.HandleEvent(ctx, &event); err != nil {
        if h.Guard != nil {
            _ = h.Guard.Delete(context.WithoutCancel(ctx), event.ID)
        }
        return err
    }
    log.Info().Msg("stripe event processed")
    return ok(c, http.StatusOK, echo.Map{"received": true})
}
