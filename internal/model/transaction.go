package model

import (
    "encoding/json"
    "time"

    "github.com/shopspring/decimal"
)

type TransactionType string

const (
    TxCreditPurchase TransactionType = "credit_purchase"
    TxCreditUsage    TransactionType = "credit_usage"
    TxRefund         TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
    switch t {
    case TxCreditPurchase, TxCreditUsage, TxRefund:
        return true
    }
    return false
}

type TransactionStatus string

const (
    TxPending   TransactionStatus = "pending"
    TxCompleted TransactionStatus = "completed"
    TxFailed    TransactionStatus = "failed"
    TxRefunded  TransactionStatus = "refunded"
)

func (s TransactionStatus) Valid() bool {
    switch s {
    case TxPending, TxCompleted, TxFailed, TxRefunded:
        return true
    }
    return false
}

// Transaction is one entry of a user's credit history.  Purchases start
// pending when the payment intent is created and move to completed exactly
// once, when the payment is confirmed.
type Transaction struct {
    ID          uint64            `json:"id"`                    // transactions.id
    UserID      uint64            `json:"user_id"`               // transactions.user_id
    Type        TransactionType   `json:"type"`                  // transactions.type
    Status      TransactionStatus `json:"status"`                // transactions.status
    Amount      decimal.Decimal   `json:"amount"`                // transactions.amount (dollars)
    Credits     int64             `json:"credits"`               // transactions.credits
    PaymentRef  *string           `json:"payment_ref,omitempty"` // transactions.payment_ref (payment intent id)
    ChargeRef   *string           `json:"charge_ref,omitempty"`  // transactions.charge_ref
    Description string            `json:"description"`           // transactions.description
    Metadata    json.RawMessage   `json:"metadata,omitempty"`    // transactions.metadata JSON
    CreatedAt   time.Time         `json:"created_at"`            // transactions.created_at
    UpdatedAt   time.Time         `json:"updated_at"`            // transactions.updated_at
}
