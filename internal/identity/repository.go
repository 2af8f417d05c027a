package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// Repository persists enrollment records. Create is write-once per user;
// Replace is the only way to overwrite a record.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Find(ctx context.Context, userID string) (Record, error)
	Replace(ctx context.Context, rec Record) error
}

func alreadyEnrolled(userID string) error {
	return failure.New(failure.AlreadyEnrolled, "user %s is already enrolled", userID)
}

func notEnrolled(userID string) error {
	return failure.New(failure.UserNotEnrolled, "user %s is not enrolled", userID)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed credential store.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a record, failing if the user already has one.
func (r *PostgresRepository) Create(ctx context.Context, rec Record) error {
	cmd, err := r.db.Exec(ctx, `INSERT INTO credentials (user_id, mode, helper, credential_id, address, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6) ON CONFLICT (user_id) DO NOTHING`,
		rec.UserID, string(rec.Mode), rec.Helper, rec.CredentialID, rec.Address.Hex(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return alreadyEnrolled(rec.UserID)
	}
	return nil
}

// Find fetches the record for userID.
func (r *PostgresRepository) Find(ctx context.Context, userID string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT user_id, mode, helper, credential_id, address, created_at, updated_at
        FROM credentials WHERE user_id = $1`, userID)
	var (
		rec     Record
		mode    string
		address string
	)
	if err := row.Scan(&rec.UserID, &mode, &rec.Helper, &rec.CredentialID, &address, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, notEnrolled(userID)
		}
		return Record{}, fmt.Errorf("select credential: %w", err)
	}
	rec.Mode = Mode(mode)
	rec.Address = common.HexToAddress(address)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Replace overwrites an existing record.
func (r *PostgresRepository) Replace(ctx context.Context, rec Record) error {
	cmd, err := r.db.Exec(ctx, `UPDATE credentials SET mode = $2, helper = $3, credential_id = $4, address = $5, updated_at = $6
        WHERE user_id = $1`,
		rec.UserID, string(rec.Mode), rec.Helper, rec.CredentialID, rec.Address.Hex(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return notEnrolled(rec.UserID)
	}
	return nil
}
