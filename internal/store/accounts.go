package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Account queries live beside the document store because user documents and
// group members reference auth_users.idx. Credential verification itself is
// the account service's job.

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var name, info sql.NullString
	err := row.Scan(&a.Idx, &a.Email, &name, &a.Certified, &a.Ctime, &info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if name.Valid {
		a.Name = &name.String
	}
	if info.Valid {
		a.Info = &info.String
	}
	return &a, nil
}

const accountColumns = `idx, email, name, certified, ctime, info::text`

// GetAccount returns an account by index, or nil.
func (s *PostgresStore) GetAccount(ctx context.Context, idx int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM auth_users WHERE idx=$1
	`, idx)
	return scanAccount(row)
}

// CreateAccount inserts an auth_users row and returns it.
func (s *PostgresStore) CreateAccount(ctx context.Context, email string, name *string, certified bool, info *string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_users (email, name, certified, ctime, info)
		VALUES ($1, $2, $3, NOW(), $4::jsonb)
		RETURNING `+accountColumns+`
	`, email, name, certified, info)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if account == nil {
		return nil, errors.New("insert account: no row returned")
	}
	return account, nil
}

// AccountCount counts registered accounts. The first account to sign up is
// granted the bootstrap groups.
func (s *PostgresStore) AccountCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)::int FROM auth_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// HasCredential reports whether a credential exists for (email, provider).
func (s *PostgresStore) HasCredential(ctx context.Context, email, provider string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM credentials WHERE email=$1 AND provider=$2)
	`, email, provider).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credential: %w", err)
	}
	return exists, nil
}

// CreateCredential stores a credential row. The password hash is empty for
// external providers.
func (s *PostgresStore) CreateCredential(ctx context.Context, userIdx int64, provider, email, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_idx, provider, email, password, ctime)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
	`, userIdx, provider, email, passwordHash)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// LocalCredential returns the stored password hash and account index for a
// local login, or ("", 0, nil) when no such credential exists.
func (s *PostgresStore) LocalCredential(ctx context.Context, email string) (string, int64, error) {
	var hash sql.NullString
	var userIdx int64
	err := s.db.QueryRowContext(ctx, `
		SELECT password, user_idx FROM credentials WHERE email=$1 AND provider='local'
	`, email).Scan(&hash, &userIdx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("lookup local credential: %w", err)
	}
	return hash.String, userIdx, nil
}
