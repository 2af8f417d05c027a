package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresJournal persists payment attempts in PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Append inserts an entry. Transaction hashes are unique when present.
func (j *PostgresJournal) Append(ctx context.Context, e Entry) error {
	id := uuid.New()
	if e.ID != "" {
		parsed, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("parse entry id: %w", err)
		}
		id = parsed
	}
	var txHash *string
	if e.TxHash != "" {
		txHash = &e.TxHash
	}
	cmd, err := j.db.Exec(ctx, `INSERT INTO payments
        (id, user_id, sender, receiver, merchant_name, amount, tx_hash, nonce, status, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
        ON CONFLICT (tx_hash) DO NOTHING`,
		id, e.UserID, e.Sender, e.Receiver, e.MerchantName, e.Amount.String(), txHash, int64(e.Nonce), e.Status, e.Reason, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

// ListByUser returns the user's most recent attempts first.
func (j *PostgresJournal) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := j.db.Query(ctx, `SELECT id, user_id, sender, receiver, merchant_name, amount::text,
        COALESCE(tx_hash, ''), nonce, status, reason, created_at
        FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e      Entry
			id     uuid.UUID
			amount string
			nonce  int64
		)
		if err := rows.Scan(&id, &e.UserID, &e.Sender, &e.Receiver, &e.MerchantName, &amount,
			&e.TxHash, &nonce, &e.Status, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		e.ID = id.String()
		e.Nonce = uint64(nonce)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
