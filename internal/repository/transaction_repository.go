package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

// TransactionRepo stores the credit history and applies every balance
// change.  Balance and transaction rows always move inside one DB
// transaction, each guarded by a conditional UPDATE.
type TransactionRepo struct{ DB *sql.DB }

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{DB: db} }

// Settlement is the outcome of a ledger write.  Applied is false when the
// referenced transaction had already been settled, in which case Balance
// still reports the current balance.
type Settlement struct {
	TransactionID uint64
	UserID        uint64
	Credits       int64
	Balance       int64
	Applied       bool
}

const transactionColumns = "id,user_id,type,status,amount,credits,payment_ref,charge_ref,description,metadata,created_at,updated_at"

func scanTransaction(s rowScanner) (model.Transaction, error) {
	var (
		t             model.Transaction
		typ, status   string
		payRef, chRef sql.NullString
		meta          sql.NullString
	)
	err := s.Scan(&t.ID, &t.UserID, &typ, &status, &t.Amount, &t.Credits, &payRef, &chRef,
		&t.Description, &meta, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	if payRef.Valid {
		t.PaymentRef = &payRef.String
	}
	if chRef.Valid {
		t.ChargeRef = &chRef.String
	}
	if meta.Valid && meta.String != "" {
		t.Metadata = json.RawMessage(meta.String)
	}
	return t, nil
}

// CreatePending inserts a pending credit purchase and sets t.ID.
func (r *TransactionRepo) CreatePending(ctx context.Context, t *model.Transaction) error {
	var meta any
	if len(t.Metadata) > 0 {
		meta = string(t.Metadata)
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, status, amount, credits, payment_ref, description, metadata)
		 VALUES (?,?,?,?,?,?,?,?)`,
		t.UserID, string(model.TxCreditPurchase), string(model.TxPending), t.Amount.StringFixed(2), t.Credits,
		t.PaymentRef, t.Description, meta)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.Type = model.TxCreditPurchase
	t.Status = model.TxPending
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uint64) (model.Transaction, error) {
	t, err := scanTransaction(r.DB.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *TransactionRepo) GetByPaymentRef(ctx context.Context, ref string) (model.Transaction, error) {
	t, err := scanTransaction(r.DB.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE payment_ref=? LIMIT 1", ref))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transaction{}, ErrNotFound
	}
	return t, err
}

// List returns transactions visible through f, newest first.
func (r *TransactionRepo) List(ctx context.Context, f scope.Filter, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	clause, args := f.Where("user_id")
	args = append(args, limit, offset)
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE "+clause+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompletePurchase moves purchase id from pending to completed and credits
// its owner, both in one DB transaction.  Only the caller whose UPDATE
// flips the status credits the balance; every other caller, including
// retries, gets Applied=false and the current balance.
func (r *TransactionRepo) CompletePurchase(ctx context.Context, id uint64, chargeRef *string) (Settlement, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status='completed', charge_ref=COALESCE(?, charge_ref)
		  WHERE id=? AND type='credit_purchase' AND status='pending'`,
		chargeRef, id)
	if err != nil {
		return Settlement{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Settlement{}, err
	}

	s := Settlement{TransactionID: id, Applied: n == 1}
	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT user_id, credits, status FROM transactions WHERE id=?", id).Scan(&s.UserID, &s.Credits, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	if err != nil {
		return Settlement{}, err
	}
	if !s.Applied && status != string(model.TxCompleted) {
		return Settlement{}, ErrConflict
	}

	if s.Applied {
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET credit_balance = credit_balance + ? WHERE id=?", s.Credits, s.UserID); err != nil {
			return Settlement{}, err
		}
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT credit_balance FROM users WHERE id=?", s.UserID).Scan(&s.Balance); err != nil {
		return Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return Settlement{}, err
	}
	return s, nil
}

// MarkFailed moves a pending purchase to failed.  It reports whether a row
// changed.
func (r *TransactionRepo) MarkFailed(ctx context.Context, paymentRef string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE transactions SET status='failed' WHERE payment_ref=? AND status='pending'", paymentRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FlagDispute records a dispute on the purchase paid by paymentRef.
func (r *TransactionRepo) FlagDispute(ctx context.Context, paymentRef, disputeID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE transactions
		    SET metadata = JSON_SET(COALESCE(metadata, JSON_OBJECT()), '$.disputed', true, '$.dispute_id', ?)
		  WHERE payment_ref=?`, disputeID, paymentRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Consume debits credits from userID and records a completed usage row.
// The debit is guarded by credit_balance >= credits.
func (r *TransactionRepo) Consume(ctx context.Context, userID uint64, credits int64, description string) (Settlement, error) {
	if credits <= 0 {
		return Settlement{}, fmt.Errorf("consume: credits must be positive, got %d", credits)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET credit_balance = credit_balance - ? WHERE id=? AND is_active=1 AND credit_balance >= ?",
		credits, userID, credits)
	if err != nil {
		return Settlement{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Settlement{}, ErrInsufficientCredits
	}
	ins, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, status, amount, credits, description)
		 VALUES (?,?,?,?,?,?)`,
		userID, string(model.TxCreditUsage), string(model.TxCompleted), decimal.Zero.StringFixed(2), credits, description)
	if err != nil {
		return Settlement{}, err
	}
	id, err := ins.LastInsertId()
	if err != nil {
		return Settlement{}, err
	}
	s := Settlement{TransactionID: uint64(id), UserID: userID, Credits: credits, Applied: true}
	if err := tx.QueryRowContext(ctx,
		"SELECT credit_balance FROM users WHERE id=?", userID).Scan(&s.Balance); err != nil {
		return Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return Settlement{}, err
	}
	return s, nil
}

// Refund reverses usage row usageID once: the row moves to refunded, the
// credits go back to the balance and a refund row is written.
func (r *TransactionRepo) Refund(ctx context.Context, usageID uint64, description string) (Settlement, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE transactions SET status='refunded' WHERE id=? AND type='credit_usage' AND status='completed'", usageID)
	if err != nil {
		return Settlement{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Settlement{}, ErrConflict
	}
	var s Settlement
	if err := tx.QueryRowContext(ctx,
		"SELECT user_id, credits FROM transactions WHERE id=?", usageID).Scan(&s.UserID, &s.Credits); err != nil {
		return Settlement{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET credit_balance = credit_balance + ? WHERE id=?", s.Credits, s.UserID); err != nil {
		return Settlement{}, err
	}
	ins, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, status, amount, credits, description)
		 VALUES (?,?,?,?,?,?)`,
		s.UserID, string(model.TxRefund), string(model.TxCompleted), decimal.Zero.StringFixed(2), s.Credits, description)
	if err != nil {
		return Settlement{}, err
	}
	id, err := ins.LastInsertId()
	if err != nil {
		return Settlement{}, err
	}
	s.TransactionID = uint64(id)
	s.Applied = true
	if err := tx.QueryRowContext(ctx,
		"SELECT credit_balance FROM users WHERE id=?", s.UserID).Scan(&s.Balance); err != nil {
		return Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return Settlement{}, err
	}
	return s, nil
}
