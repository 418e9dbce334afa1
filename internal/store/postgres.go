package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS investment_policies (
    user_address TEXT PRIMARY KEY,
    policy       JSONB NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS spend_authorizations (
    user_address  TEXT PRIMARY KEY,
    auth_record   JSONB NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func userKey(user common.Address) string {
	return strings.ToLower(user.Hex())
}

func (s *PostgresStore) GetPolicy(ctx context.Context, user common.Address) (types.InvestmentPolicy, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT policy FROM investment_policies WHERE user_address = $1`,
		userKey(user),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.InvestmentPolicy{}, ErrNotFound
	}
	if err != nil {
		return types.InvestmentPolicy{}, fmt.Errorf("failed to load policy: %w", err)
	}

	var wire types.PolicyWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return types.InvestmentPolicy{}, fmt.Errorf("failed to decode stored policy: %w", err)
	}
	return wire.FromWire()
}

func (s *PostgresStore) SavePolicy(ctx context.Context, user common.Address, policy types.InvestmentPolicy) error {
	raw, err := json.Marshal(policy.ToWire())
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO investment_policies (user_address, policy, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_address) DO UPDATE SET policy = $2, updated_at = now()`,
		userKey(user), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAuthorization(ctx context.Context, user common.Address) (*types.SpendAuthorization, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT auth_record FROM spend_authorizations WHERE user_address = $1`,
		userKey(user),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization: %w", err)
	}

	var auth types.SpendAuthorization
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("failed to decode stored authorization: %w", err)
	}
	return &auth, nil
}

func (s *PostgresStore) SaveAuthorization(ctx context.Context, user common.Address, auth *types.SpendAuthorization) error {
	raw, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to encode authorization: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO spend_authorizations (user_address, auth_record, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_address) DO UPDATE SET auth_record = $2, updated_at = now()`,
		userKey(user), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAuthorization(ctx context.Context, user common.Address) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM spend_authorizations WHERE user_address = $1`,
		userKey(user),
	)
	if err != nil {
		return fmt.Errorf("failed to delete authorization: %w", err)
	}
	return nil
}
