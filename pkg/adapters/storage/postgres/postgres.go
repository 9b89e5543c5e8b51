package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the account and proxy tables
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL,
	password       TEXT NOT NULL DEFAULT '',
	recovery_email TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	account_group  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT '',
	client_id      TEXT NOT NULL DEFAULT '',
	refresh_token  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS accounts_group_idx ON accounts (account_group, created_at, id);

CREATE TABLE IF NOT EXISTS proxies (
	id          TEXT PRIMARY KEY,
	proxy_group TEXT NOT NULL,
	scheme      TEXT NOT NULL DEFAULT '',
	host        TEXT NOT NULL,
	port        INTEGER NOT NULL,
	username    TEXT NOT NULL DEFAULT '',
	password    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS proxies_group_idx ON proxies (proxy_group, created_at, id);
`

const accountColumns = `id, email, password, recovery_email, phone, account_group, status, client_id, refresh_token, created_at, updated_at`

// EntityStore implements ports.EntityStore on PostgreSQL
type EntityStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewEntityStore creates a new PostgreSQL entity store
func NewEntityStore(db *pgxpool.Pool, logger *zap.Logger) *EntityStore {
	return &EntityStore{db: db, logger: logger}
}

// Migrate applies Schema
func (s *EntityStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ListAccounts returns the accounts of a group in creation order
func (s *EntityStore) ListAccounts(ctx context.Context, filter ports.AccountFilter) ([]domain.Account, error) {
	statuses := filter.Statuses
	if statuses == nil {
		statuses = []string{}
	}
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE account_group = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at, id
		LIMIT NULLIF($3::int, 0)`,
		filter.Group, statuses, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount retrieves an account by id
func (s *EntityStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return a, err
}

// SaveAccounts upserts accounts in one batch. New accounts of a batch get
// creation times a microsecond apart so a group lists in insertion order.
func (s *EntityStore) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	now := time.Now()
	batch := &pgx.Batch{}
	for i, a := range accounts {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		batch.Queue(`INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				password = EXCLUDED.password,
				recovery_email = EXCLUDED.recovery_email,
				phone = EXCLUDED.phone,
				account_group = EXCLUDED.account_group,
				status = EXCLUDED.status,
				client_id = EXCLUDED.client_id,
				refresh_token = EXCLUDED.refresh_token,
				updated_at = EXCLUDED.updated_at`,
			a.ID, a.Email, a.Password, a.RecoveryEmail, a.Phone, a.Group, a.Status,
			a.ClientID, a.RefreshToken, a.CreatedAt, now)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}
	return nil
}

// UpdateAccountStatus sets the status of an account
func (s *EntityStore) UpdateAccountStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// PushProxies appends proxies to their group's pool
func (s *EntityStore) PushProxies(ctx context.Context, proxies []domain.Proxy) error {
	batch := &pgx.Batch{}
	for _, p := range proxies {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		batch.Queue(`INSERT INTO proxies (id, proxy_group, scheme, host, port, username, password)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Group, p.Scheme, p.Host, p.Port, p.Username, p.Password)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to push proxies: %w", err)
	}
	return nil
}

// PopProxy deletes and returns the oldest proxy of the group. Concurrent
// callers skip rows locked by each other, so each proxy is handed out once.
func (s *EntityStore) PopProxy(ctx context.Context, group string) (*domain.Proxy, error) {
	var p domain.Proxy
	err := s.db.QueryRow(ctx, `DELETE FROM proxies
		WHERE id = (
			SELECT id FROM proxies
			WHERE proxy_group = $1
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, proxy_group, scheme, host, port, username, password`, group).
		Scan(&p.ID, &p.Group, &p.Scheme, &p.Host, &p.Port, &p.Username, &p.Password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPoolEmpty
		}
		return nil, fmt.Errorf("failed to pop proxy: %w", err)
	}
	return &p, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.Password, &a.RecoveryEmail, &a.Phone, &a.Group,
		&a.Status, &a.ClientID, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}
