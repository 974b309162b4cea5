package tokens

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

// PostgresStore persists tokens in PostgreSQL via a pgx connection pool.
// Use this backend when multiple connector instances share token state.
type PostgresStore struct {
	pool      *pgxpool.Pool
	encryptor *crypto.TokenEncryptor
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vendor_tokens (
	vendor        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	last_pull     TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (vendor, user_id)
);
`

// NewPostgresStore connects to PostgreSQL and ensures the schema exists
func NewPostgresStore(ctx context.Context, connString string, encryptor *crypto.TokenEncryptor) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.TokenError("failed to create postgres pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.TokenError("failed to connect to postgres", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.TokenError("failed to create vendor_tokens table", err)
	}

	return &PostgresStore{pool: pool, encryptor: encryptor}, nil
}

func (s *PostgresStore) Get(ctx context.Context, vendor vendors.VendorType, userID string) (*vendors.VendorToken, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at, last_pull
		 FROM vendor_tokens WHERE vendor = $1 AND user_id = $2`,
		string(vendor), userID)

	var accessToken, refreshToken string
	var expiresAt time.Time
	var lastPull *time.Time

	if err := row.Scan(&accessToken, &refreshToken, &expiresAt, &lastPull); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFoundError("token for " + tokenKey(vendor, userID))
		}
		return nil, errors.TokenError("failed to read token", err)
	}

	plainAccess, plainRefresh, err := decryptToken(s.encryptor, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	return &vendors.VendorToken{
		Vendor:       vendor,
		UserID:       userID,
		AccessToken:  plainAccess,
		RefreshToken: plainRefresh,
		ExpiresAt:    expiresAt,
		LastPull:     lastPull,
	}, nil
}

func (s *PostgresStore) Put(ctx context.Context, token *vendors.VendorToken) error {
	accessToken, refreshToken, err := encryptToken(s.encryptor, token)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vendor_tokens (vendor, user_id, access_token, refresh_token, expires_at, last_pull, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (vendor, user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			last_pull = EXCLUDED.last_pull,
			updated_at = NOW()`,
		string(token.Vendor), token.UserID, accessToken, refreshToken, token.ExpiresAt, token.LastPull)
	if err != nil {
		return errors.TokenError("failed to store token", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLastPull(ctx context.Context, vendor vendors.VendorType, userID string, ts time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vendor_tokens SET last_pull = $1, updated_at = NOW()
		 WHERE vendor = $2 AND user_id = $3`,
		ts, string(vendor), userID)
	if err != nil {
		return errors.TokenError("failed to update last_pull", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, vendor vendors.VendorType, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM vendor_tokens WHERE vendor = $1 AND user_id = $2`,
		string(vendor), userID)
	if err != nil {
		return errors.TokenError("failed to delete token", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, vendor vendors.VendorType) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM vendor_tokens WHERE vendor = $1 ORDER BY user_id`,
		string(vendor))
	if err != nil {
		return nil, errors.TokenError("failed to list users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, errors.TokenError("failed to scan user_id", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.TokenError("failed to iterate users", err)
	}
	return users, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
