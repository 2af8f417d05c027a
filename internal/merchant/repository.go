package merchant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the merchant whitelist in registration order.
type Repository interface {
	List(ctx context.Context) ([]Merchant, error)
	Create(ctx context.Context, m Merchant) error
}

// PostgresRepository stores merchants in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed merchant repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// List returns merchants ordered by registration time.
func (r *PostgresRepository) List(ctx context.Context) ([]Merchant, error) {
	rows, err := r.db.Query(ctx, `SELECT name, description, receiver_address, business_type, kyc_info, created_at
        FROM merchants ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Merchant
	for rows.Next() {
		var (
			m         Merchant
			kyc       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&m.Name, &m.Description, &m.ReceiverAddress, &m.BusinessType, &kyc, &createdAt); err != nil {
			return nil, err
		}
		if len(kyc) > 0 {
			if err := json.Unmarshal(kyc, &m.KYCInfo); err != nil {
				return nil, err
			}
		}
		m.CreatedAt = createdAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a merchant; the unique index on lower(name) rejects duplicates.
func (r *PostgresRepository) Create(ctx context.Context, m Merchant) error {
	kyc, err := json.Marshal(m.KYCInfo)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `INSERT INTO merchants (id, name, description, receiver_address, business_type, kyc_info, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (lower(name)) DO NOTHING`,
		uuid.New(), m.Name, m.Description, m.ReceiverAddress, m.BusinessType, kyc, m.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateName
	}
	return nil
}
