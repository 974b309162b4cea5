package tokens

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/vendors"
)

// SQLiteStore persists tokens in a local SQLite database. Suitable for
// single-instance deployments that need durability across restarts.
type SQLiteStore struct {
	db        *sql.DB
	encryptor *crypto.TokenEncryptor
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vendor_tokens (
	vendor        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    TIMESTAMP NOT NULL,
	last_pull     TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (vendor, user_id)
);
`

// NewSQLiteStore opens (creating if needed) the SQLite database at path
func NewSQLiteStore(path string, encryptor *crypto.TokenEncryptor) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.TokenError("failed to open sqlite database", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.TokenError("failed to create vendor_tokens table", err)
	}

	return &SQLiteStore{db: db, encryptor: encryptor}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, vendor vendors.VendorType, userID string) (*vendors.VendorToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, last_pull
		 FROM vendor_tokens WHERE vendor = ? AND user_id = ?`,
		string(vendor), userID)

	var accessToken, refreshToken string
	var expiresAt time.Time
	var lastPull sql.NullTime

	if err := row.Scan(&accessToken, &refreshToken, &expiresAt, &lastPull); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundError("token for " + tokenKey(vendor, userID))
		}
		return nil, errors.TokenError("failed to read token", err)
	}

	plainAccess, plainRefresh, err := decryptToken(s.encryptor, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	token := &vendors.VendorToken{
		Vendor:       vendor,
		UserID:       userID,
		AccessToken:  plainAccess,
		RefreshToken: plainRefresh,
		ExpiresAt:    expiresAt,
	}
	if lastPull.Valid {
		token.LastPull = &lastPull.Time
	}
	return token, nil
}

func (s *SQLiteStore) Put(ctx context.Context, token *vendors.VendorToken) error {
	accessToken, refreshToken, err := encryptToken(s.encryptor, token)
	if err != nil {
		return err
	}

	var lastPull interface{}
	if token.LastPull != nil {
		lastPull = *token.LastPull
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vendor_tokens (vendor, user_id, access_token, refresh_token, expires_at, last_pull, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (vendor, user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			last_pull = excluded.last_pull,
			updated_at = CURRENT_TIMESTAMP`,
		string(token.Vendor), token.UserID, accessToken, refreshToken, token.ExpiresAt, lastPull)
	if err != nil {
		return errors.TokenError("failed to store token", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLastPull(ctx context.Context, vendor vendors.VendorType, userID string, ts time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE vendor_tokens SET last_pull = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE vendor = ? AND user_id = ?`,
		ts, string(vendor), userID)
	if err != nil {
		return errors.TokenError("failed to update last_pull", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.TokenError("failed to check update result", err)
	}
	if affected == 0 {
		return errors.NotFoundError("token for " + tokenKey(vendor, userID))
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, vendor vendors.VendorType, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vendor_tokens WHERE vendor = ? AND user_id = ?`,
		string(vendor), userID)
	if err != nil {
		return errors.TokenError("failed to delete token", err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, vendor vendors.VendorType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM vendor_tokens WHERE vendor = ? ORDER BY user_id`,
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
