// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer pair that moves them.
package queue

import "time"

// LedgerQueue carries every credit movement.
const LedgerQueue = "credits.events"

type LedgerEventType string

const (
    EventCreditsPurchased LedgerEventType = "credits.purchased"
    EventCreditsConsumed  LedgerEventType = "credits.consumed"
    EventCreditsRefunded  LedgerEventType = "credits.refunded"
    EventPaymentFailed    LedgerEventType = "payment.failed"
    EventPaymentDisputed  LedgerEventType = "payment.disputed"
)

// LedgerEvent is published after a balance change commits.  It carries
// enough for downstream consumers to audit without querying the database.
type LedgerEvent struct {
    Type          LedgerEventType `json:"type"`
    UserID        uint64          `json:"user_id"`
    TransactionID uint64          `json:"transaction_id"`
    Credits       int64           `json:"credits"`
    Balance       int64           `json:"balance"`
    PaymentRef    string          `json:"payment_ref,omitempty"`
    At            time.Time       `json:"at"`
}
