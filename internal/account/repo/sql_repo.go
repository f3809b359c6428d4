package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
)

// SQLRepo stores accounts in a single `accounts` table using sqlx. It works
// against Postgres (lib/pq) and SQLite (go-sqlite3); nested fields are JSON
// text columns so the same statements serve both drivers.
type SQLRepo struct {
	db *sqlx.DB
}

func NewSQLRepo(db *sqlx.DB) *SQLRepo { return &SQLRepo{db: db} }

const postgresDDL = `
CREATE TABLE IF NOT EXISTS accounts (
  account_key TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  credential_hash TEXT NOT NULL,
  credential_algo TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user',
  status TEXT NOT NULL DEFAULT 'good',
  risk_score INT NOT NULL DEFAULT 0,
  suspension_reason TEXT,
  suspension_date TIMESTAMPTZ,
  subscription TEXT,
  payment_history TEXT NOT NULL DEFAULT '[]',
  profile TEXT NOT NULL DEFAULT '{}',
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS accounts (
  account_key TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  credential_hash TEXT NOT NULL,
  credential_algo TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user',
  status TEXT NOT NULL DEFAULT 'good',
  risk_score INTEGER NOT NULL DEFAULT 0,
  suspension_reason TEXT,
  suspension_date DATETIME,
  subscription TEXT,
  payment_history TEXT NOT NULL DEFAULT '[]',
  profile TEXT NOT NULL DEFAULT '{}',
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);
`

// EnsureTable creates the accounts table if not exists (idempotent).
// Convenience for development; prefer migrations in production.
func (r *SQLRepo) EnsureTable(ctx context.Context) error {
	ddl := postgresDDL
	if r.db.DriverName() == "sqlite3" {
		ddl = sqliteDDL
	}
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const selectColumns = `account_key, email, credential_hash, credential_algo, role, status,
	risk_score, suspension_reason, suspension_date, subscription, payment_history,
	profile, version, created_at, updated_at`

type accountRow struct {
	Key              string         `db:"account_key"`
	Email            string         `db:"email"`
	CredentialHash   string         `db:"credential_hash"`
	CredentialAlgo   string         `db:"credential_algo"`
	Role             string         `db:"role"`
	Status           string         `db:"status"`
	RiskScore        int            `db:"risk_score"`
	SuspensionReason sql.NullString `db:"suspension_reason"`
	SuspensionDate   sql.NullTime   `db:"suspension_date"`
	Subscription     sql.NullString `db:"subscription"`
	PaymentHistory   string         `db:"payment_history"`
	Profile          string         `db:"profile"`
	Version          int64          `db:"version"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func toRow(a *entity.Account) (*accountRow, error) {
	history := a.PaymentHistory
	if history == nil {
		history = []entity.PaymentRecord{}
	}
	hRaw, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode payment history: %w", err)
	}
	pRaw, err := json.Marshal(a.Profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	row := &accountRow{
		Key:            a.Key,
		Email:          a.Email,
		CredentialHash: a.CredentialHash,
		CredentialAlgo: a.CredentialAlgo,
		Role:           string(a.Role),
		Status:         string(a.Status),
		RiskScore:      a.RiskScore,
		PaymentHistory: string(hRaw),
		Profile:        string(pRaw),
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.SuspensionReason != nil {
		row.SuspensionReason = sql.NullString{String: *a.SuspensionReason, Valid: true}
	}
	if a.SuspensionDate != nil {
		row.SuspensionDate = sql.NullTime{Time: *a.SuspensionDate, Valid: true}
	}
	if a.Subscription != nil {
		sRaw, err := json.Marshal(a.Subscription)
		if err != nil {
			return nil, fmt.Errorf("encode subscription: %w", err)
		}
		row.Subscription = sql.NullString{String: string(sRaw), Valid: true}
	}
	return row, nil
}

func (row *accountRow) toEntity() (*entity.Account, error) {
	a := &entity.Account{
		Key:            row.Key,
		Email:          row.Email,
		CredentialHash: row.CredentialHash,
		CredentialAlgo: row.CredentialAlgo,
		Role:           entity.Role(row.Role),
		Status:         entity.Status(row.Status),
		RiskScore:      row.RiskScore,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.SuspensionReason.Valid {
		r := row.SuspensionReason.String
		a.SuspensionReason = &r
	}
	if row.SuspensionDate.Valid {
		d := row.SuspensionDate.Time
		a.SuspensionDate = &d
	}
	if row.Subscription.Valid && row.Subscription.String != "" {
		var s entity.Subscription
		if err := json.Unmarshal([]byte(row.Subscription.String), &s); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		a.Subscription = &s
	}
	if row.PaymentHistory != "" {
		if err := json.Unmarshal([]byte(row.PaymentHistory), &a.PaymentHistory); err != nil {
			return nil, fmt.Errorf("decode payment history: %w", err)
		}
	}
	if row.Profile != "" {
		if err := json.Unmarshal([]byte(row.Profile), &a.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	return a, nil
}

// Get returns the account stored under key or ErrNotFound.
func (r *SQLRepo) Get(ctx context.Context, key string) (*entity.Account, error) {
	q := r.db.Rebind(`SELECT ` + selectColumns + ` FROM accounts WHERE account_key = ?`)
	var row accountRow
	if err := r.db.GetContext(ctx, &row, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity()
}

// versionedRow carries the version the caller read next to the new row.
type versionedRow struct {
	accountRow
	PrevVersion int64 `db:"prev_version"`
}

// Set replaces the whole record. The upsert only updates a row still at
// version prev; an existing row with any other version affects nothing and
// reports ErrConflict.
func (r *SQLRepo) Set(ctx context.Context, a *entity.Account, prev int64) error {
	row, err := toRow(a)
	if err != nil {
		return err
	}
	const q = `INSERT INTO accounts (account_key, email, credential_hash, credential_algo, role, status,
		risk_score, suspension_reason, suspension_date, subscription, payment_history, profile,
		version, created_at, updated_at)
	VALUES (:account_key, :email, :credential_hash, :credential_algo, :role, :status,
		:risk_score, :suspension_reason, :suspension_date, :subscription, :payment_history, :profile,
		:version, :created_at, :updated_at)
	ON CONFLICT (account_key) DO UPDATE SET
		email = excluded.email,
		credential_hash = excluded.credential_hash,
		credential_algo = excluded.credential_algo,
		role = excluded.role,
		status = excluded.status,
		risk_score = excluded.risk_score,
		suspension_reason = excluded.suspension_reason,
		suspension_date = excluded.suspension_date,
		subscription = excluded.subscription,
		payment_history = excluded.payment_history,
		profile = excluded.profile,
		version = excluded.version,
		updated_at = excluded.updated_at
	WHERE accounts.version = :prev_version`
	res, err := r.db.NamedExecContext(ctx, q, versionedRow{accountRow: *row, PrevVersion: prev})
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// List enumerates every stored account.
func (r *SQLRepo) List(ctx context.Context) ([]*entity.Account, error) {
	q := `SELECT ` + selectColumns + ` FROM accounts ORDER BY created_at, account_key`
	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*entity.Account, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toEntity()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", rows[i].Key, err)
		}
		out = append(out, a)
	}
	return out, nil
}
