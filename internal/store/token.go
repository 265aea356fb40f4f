package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/beaconauth/beacon/internal/model"
)

type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanMagicToken(scanner interface{ Scan(...any) error }) (*model.MagicToken, error) {
	var mt model.MagicToken
	err := scanner.Scan(&mt.ID, &mt.Token, &mt.UserID, &mt.ExpiresAt, &mt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &mt, nil
}

const magicTokenCols = `id, token, user_id, expires_at, created_at`

// Create records an outstanding token with its server-side expiry. The signed
// token carries its own expiry claim; the stored timestamp is the revocation
// authority and is recorded independently.
func (s *TokenStore) Create(ctx context.Context, token string, userID int64, expiresAt time.Time) (*model.MagicToken, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO magic_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+magicTokenCols+` FROM magic_tokens WHERE id = ?`, id)
	return scanMagicToken(row)
}

// Consume deletes the row for the given token if it is still live, and reports
// whether this call removed it. The conditional delete is a single statement so
// that two concurrent verifications of the same token cannot both win: exactly
// one caller observes consumed == true.
func (s *TokenStore) Consume(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM magic_tokens WHERE token = ? AND expires_at > ?`,
		token, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("consume magic token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByToken returns the row for the raw token regardless of expiry, or nil if
// absent. Used by tests and the reaper, not by the verification path.
func (s *TokenStore) GetByToken(ctx context.Context, token string) (*model.MagicToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+magicTokenCols+` FROM magic_tokens WHERE token = ?`, token)
	mt, err := scanMagicToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic token: %w", err)
	}
	return mt, nil
}

// CountForUser returns the number of outstanding tokens for a user.
func (s *TokenStore) CountForUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM magic_tokens WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count magic tokens: %w", err)
	}
	return n, nil
}

// DeleteExpired removes tokens whose server-side expiry has passed. Run
// periodically; expired tokens are already unusable, this only reclaims rows.
func (s *TokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM magic_tokens WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
