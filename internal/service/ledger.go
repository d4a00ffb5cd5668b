package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/logger"
	"github.com/iliyamo/carmod-studio/internal/metrics"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/payment"
	"github.com/iliyamo/carmod-studio/internal/queue"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

type LedgerStore interface {
	CreatePending(ctx context.Context, t *model.Transaction) error
	GetByID(ctx context.Context, id uint64) (model.Transaction, error)
	GetByPaymentRef(ctx context.Context, ref string) (model.Transaction, error)
	List(ctx context.Context, f scope.Filter, limit, offset int) ([]model.Transaction, error)
	CompletePurchase(ctx context.Context, id uint64, chargeRef *string) (repository.Settlement, error)
	MarkFailed(ctx context.Context, paymentRef string) (bool, error)
	FlagDispute(ctx context.Context, paymentRef, disputeID string) (bool, error)
	Consume(ctx context.Context, userID uint64, credits int64, description string) (repository.Settlement, error)
	Refund(ctx context.Context, usageID uint64, description string) (repository.Settlement, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, userID uint64) (int64, error)
}

// PaymentGateway is the payment processor as seen by the ledger.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (payment.Intent, error)
	GetIntent(ctx context.Context, id string) (payment.Intent, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev queue.LedgerEvent) error
}

type LedgerDeps struct {
	Store     LedgerStore
	Balances  BalanceReader
	Gateway   PaymentGateway // nil when payments are not configured
	Publisher EventPublisher // optional
	Metrics   *metrics.Metrics
}

// LedgerService owns every change to credit balances.
type LedgerService struct {
	store     LedgerStore
	balances  BalanceReader
	gateway   PaymentGateway
	publisher EventPublisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewLedgerService(d LedgerDeps) *LedgerService {
	return &LedgerService{
		store:     d.Store,
		balances:  d.Balances,
		gateway:   d.Gateway,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

type PurchaseInput struct {
	Credits         int64   `json:"credits" validate:"gt=0"`
	TransactionID   *uint64 `json:"transaction_id"`
	PaymentIntentID string  `json:"payment_intent_id"`
}

type PurchaseResult struct {
	TransactionID    uint64 `json:"transaction_id"`
	Credits          int64  `json:"credits"`
	CreditBalance    int64  `json:"credit_balance"`
	AlreadyProcessed bool   `json:"already_processed"`
}

type IntentInput struct {
	Amount  int64 `json:"amount" validate:"gt=0"` // cents
	Credits int64 `json:"credits" validate:"gt=0"`
}

type IntentResult struct {
	ClientSecret    string `json:"client_secret"`
	TransactionID   uint64 `json:"transaction_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// CreateIntent opens a payment intent for a credit package and records the
// matching pending purchase.
func (s *LedgerService) CreateIntent(ctx context.Context, p auth.Principal, in IntentInput) (IntentResult, error) {
	if !p.IsAdmin() {
		return IntentResult{}, apperr.Forbidden("only admins can buy credits")
	}
	if err := validateStruct(in); err != nil {
		return IntentResult{}, err
	}
	if s.gateway == nil {
		return IntentResult{}, apperr.New(apperr.CodePaymentUnavailable, "payments are not configured")
	}
	intent, err := s.gateway.CreateIntent(ctx, in.Amount, map[string]string{
		"credits": strconv.FormatInt(in.Credits, 10),
		"userId":  strconv.FormatUint(p.UserID, 10),
	})
	if err != nil {
		return IntentResult{}, apperr.Wrap(apperr.CodePaymentUnavailable, err, "create payment intent")
	}

	amount := decimal.New(in.Amount, -2)
	meta, _ := json.Marshal(map[string]any{
		"package_info": map[string]any{
			"credits":          in.Credits,
			"price_per_credit": amount.Div(decimal.NewFromInt(in.Credits)).Round(4),
		},
	})
	ref := intent.ID
	tx := model.Transaction{
		UserID:      p.UserID,
		Type:        model.TxCreditPurchase,
		Status:      model.TxPending,
		Amount:      amount,
		Credits:     in.Credits,
		PaymentRef:  &ref,
		Description: fmt.Sprintf("Purchase of %d credits for $%s", in.Credits, amount.StringFixed(2)),
		Metadata:    meta,
	}
	if err := s.store.CreatePending(ctx, &tx); err != nil {
		return IntentResult{}, storeErr(err, "transaction")
	}
	return IntentResult{ClientSecret: intent.ClientSecret, TransactionID: tx.ID, PaymentIntentID: intent.ID}, nil
}

// Purchase settles a paid credit purchase.  It is safe to retry: only the
// call that moves the transaction out of pending credits the balance, every
// other call reports AlreadyProcessed with the current balance.
func (s *LedgerService) Purchase(ctx context.Context, p auth.Principal, in PurchaseInput) (PurchaseResult, error) {
	if !p.IsAdmin() {
		return PurchaseResult{}, apperr.Forbidden("only admins can buy credits")
	}
	if err := validateStruct(in); err != nil {
		return PurchaseResult{}, err
	}

	var (
		tx  model.Transaction
		err error
	)
	switch {
	case in.TransactionID != nil:
		tx, err = s.store.GetByID(ctx, *in.TransactionID)
	case in.PaymentIntentID != "":
		tx, err = s.store.GetByPaymentRef(ctx, in.PaymentIntentID)
	default:
		return PurchaseResult{}, fieldError("transaction_id", "transaction_id or payment_intent_id is required")
	}
	if err != nil {
		return PurchaseResult{}, storeErr(err, "transaction")
	}
	if tx.UserID != p.UserID {
		return PurchaseResult{}, apperr.Forbidden("transaction belongs to another user")
	}
	if tx.Type != model.TxCreditPurchase {
		return PurchaseResult{}, fieldError("transaction_id", "is not a credit purchase")
	}
	if tx.Credits != in.Credits {
		return PurchaseResult{}, fieldError("credits", "does not match the transaction")
	}

	res := PurchaseResult{TransactionID: tx.ID, Credits: tx.Credits}
	switch tx.Status {
	case model.TxCompleted:
		bal, err := s.balances.Balance(ctx, p.UserID)
		if err != nil {
			return PurchaseResult{}, storeErr(err, "user")
		}
		res.CreditBalance, res.AlreadyProcessed = bal, true
		return res, nil
	case model.TxPending:
	default:
		return PurchaseResult{}, apperr.New(apperr.CodeConflict, "transaction is "+string(tx.Status))
	}

	if tx.PaymentRef == nil || *tx.PaymentRef == "" {
		return PurchaseResult{}, apperr.New(apperr.CodeConflict, "transaction has no payment")
	}
	if s.gateway == nil {
		return PurchaseResult{}, apperr.New(apperr.CodePaymentUnavailable, "payments are not configured")
	}
	intent, err := s.gateway.GetIntent(ctx, *tx.PaymentRef)
	if err != nil {
		return PurchaseResult{}, apperr.Wrap(apperr.CodePaymentUnavailable, err, "verify payment")
	}
	if intent.Status != payment.StatusSucceeded {
		return PurchaseResult{}, apperr.New(apperr.CodeConflict, "payment not confirmed by the processor")
	}

	st, err := s.store.CompletePurchase(ctx, tx.ID, optional(intent.ChargeID))
	if err != nil {
		return PurchaseResult{}, storeErr(err, "transaction")
	}
	res.CreditBalance, res.AlreadyProcessed = st.Balance, !st.Applied
	if st.Applied {
		s.settled(ctx, queue.EventCreditsPurchased, "purchase", st, *tx.PaymentRef)
	}
	return res, nil
}

// Balance returns the credits available to p: an admin's own balance, or
// the balance of an operator's admin.
func (s *LedgerService) Balance(ctx context.Context, p auth.Principal) (int64, error) {
	var owner uint64
	switch {
	case p.IsAdmin():
		owner = p.UserID
	case p.IsOperator():
		if p.AdminID == nil {
			return 0, apperr.New(apperr.CodeUnscopedOperator, "operator is not associated with any admin")
		}
		owner = *p.AdminID
	default:
		return 0, apperr.Forbidden("the provider has no credit balance")
	}
	bal, err := s.balances.Balance(ctx, owner)
	if err != nil {
		return 0, storeErr(err, "user")
	}
	return bal, nil
}

// Consume debits credits from adminID.  INSUFFICIENT_CREDITS is returned
// when the balance is too low; nothing is written in that case.
func (s *LedgerService) Consume(ctx context.Context, adminID uint64, credits int64, note string) (repository.Settlement, error) {
	st, err := s.store.Consume(ctx, adminID, credits, note)
	if err != nil {
		return repository.Settlement{}, storeErr(err, "user")
	}
	s.settled(ctx, queue.EventCreditsConsumed, "usage", st, "")
	return st, nil
}

// Refund returns the credits of usage row usageID.  A second refund of the
// same row is a CONFLICT.
func (s *LedgerService) Refund(ctx context.Context, usageID uint64, note string) (repository.Settlement, error) {
	st, err := s.store.Refund(ctx, usageID, note)
	if err != nil {
		return repository.Settlement{}, storeErr(err, "transaction")
	}
	s.settled(ctx, queue.EventCreditsRefunded, "refund", st, "")
	return st, nil
}

// ListTransactions returns the credit history visible to p, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, p auth.Principal, requestedOwner *uint64, limit, offset int) ([]model.Transaction, error) {
	if p.IsOperator() {
		return nil, apperr.Forbidden("operators cannot view transactions")
	}
	f, err := p.Scope(requestedOwner)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.store.List(ctx, f, limit, offset)
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return txs, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, p auth.Principal, id uint64) (model.Transaction, error) {
	if p.IsOperator() {
		return model.Transaction{}, apperr.Forbidden("operators cannot view transactions")
	}
	f, err := p.Scope(nil)
	if err != nil {
		return model.Transaction{}, err
	}
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Transaction{}, storeErr(err, "transaction")
	}
	if !f.Allows(tx.UserID) {
		return model.Transaction{}, apperr.Forbidden("transaction belongs to another user")
	}
	return tx, nil
}

// HandleEvent applies a verified payment processor webhook.  Events for
// unknown payments are ignored so the processor stops retrying them.
func (s *LedgerService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return apperr.Validation("event data required")
	}
	log := logger.From(ctx)

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return apperr.Wrap(apperr.CodeValidation, err, "decode payment intent")
		}
		tx, err := s.store.GetByPaymentRef(ctx, pi.ID)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Str("payment_ref", pi.ID).Msg("succeeded payment has no transaction")
			return nil
		}
		if err != nil {
			return storeErr(err, "transaction")
		}
		var charge *string
		if pi.LatestCharge != nil {
			charge = optional(pi.LatestCharge.ID)
		}
		st, err := s.store.CompletePurchase(ctx, tx.ID, charge)
		if errors.Is(err, repository.ErrConflict) {
			log.Warn().Uint64("transaction_id", tx.ID).Str("status", string(tx.Status)).Msg("cannot complete transaction")
			return nil
		}
		if err != nil {
			return storeErr(err, "transaction")
		}
		if st.Applied {
			s.settled(ctx, queue.EventCreditsPurchased, "purchase", st, pi.ID)
		}
		return nil

	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return apperr.Wrap(apperr.CodeValidation, err, "decode payment intent")
		}
		changed, err := s.store.MarkFailed(ctx, pi.ID)
		if err != nil {
			return storeErr(err, "transaction")
		}
		if changed {
			s.notify(ctx, queue.EventPaymentFailed, pi.ID)
		}
		return nil

	case stripe.EventTypeChargeDisputeCreated:
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return apperr.Wrap(apperr.CodeValidation, err, "decode dispute")
		}
		if d.PaymentIntent == nil || d.PaymentIntent.ID == "" {
			log.Warn().Str("dispute_id", d.ID).Msg("dispute without payment intent")
			return nil
		}
		flagged, err := s.store.FlagDispute(ctx, d.PaymentIntent.ID, d.ID)
		if err != nil {
			return storeErr(err, "transaction")
		}
		if flagged {
			s.notify(ctx, queue.EventPaymentDisputed, d.PaymentIntent.ID)
		}
		return nil
	}
	return nil
}

// settled records metrics and publishes the event for a committed change.
func (s *LedgerService) settled(ctx context.Context, typ queue.LedgerEventType, kind string, st repository.Settlement, ref string) {
	s.metrics.AddCredits(kind, st.Credits)
	s.publish(ctx, queue.LedgerEvent{
		Type:          typ,
		UserID:        st.UserID,
		TransactionID: st.TransactionID,
		Credits:       st.Credits,
		Balance:       st.Balance,
		PaymentRef:    ref,
		At:            s.now().UTC(),
	})
}

func (s *LedgerService) notify(ctx context.Context, typ queue.LedgerEventType, ref string) {
	tx, err := s.store.GetByPaymentRef(ctx, ref)
	if err != nil {
		return
	}
	s.publish(ctx, queue.LedgerEvent{
		Type:          typ,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Credits:       tx.Credits,
		PaymentRef:    ref,
		At:            s.now().UTC(),
	})
}

// publish never fails the caller: the balance change has already committed.
func (s *LedgerService) publish(ctx context.Context, ev queue.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.From(ctx).Warn().Err(err).Str("event", string(ev.Type)).Msg("ledger event not published")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
