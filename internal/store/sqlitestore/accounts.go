package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) scanAccount(row *sql.Row) (*model.Account, error) {
	var a model.Account
	var twoFactor int
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &twoFactor, &a.AuthToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	a.TwoFactorEnabled = twoFactor != 0
	return &a, nil
}

func (s *Store) LookupAccount(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, name, password_hash, two_factor_enabled, auth_token FROM accounts WHERE email = ?`, email)
	return s.scanAccount(row)
}

func (s *Store) LookupAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, name, password_hash, two_factor_enabled, auth_token FROM accounts WHERE id = ?`, id)
	return s.scanAccount(row)
}

func (s *Store) CreateAccount(ctx context.Context, name, email, passwordHash string) (*model.Account, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id, email, name, password_hash) VALUES (?, ?, ?, ?)`, id, email, name, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &model.Account{ID: id, Email: email, Name: name, PasswordHash: passwordHash}, nil
}

func (s *Store) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	return checkRowsAffected(res, err)
}

func (s *Store) GetTwoFactor(ctx context.Context, userID string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT two_factor_enabled FROM accounts WHERE id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	return v != 0, err
}

func (s *Store) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET two_factor_enabled = ? WHERE id = ?`, boolInt(enabled), userID)
	return checkRowsAffected(res, err)
}

func (s *Store) GetAuthToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT auth_token FROM accounts WHERE id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return token, err
}

func (s *Store) SetAuthToken(ctx context.Context, userID, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET auth_token = ? WHERE id = ?`, token, userID)
	return checkRowsAffected(res, err)
}

func (s *Store) GetUserInfo(ctx context.Context, userID string) (*model.Account, error) {
	return s.LookupAccountByID(ctx, userID)
}

func (s *Store) GetUserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM accounts WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return name, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports this as a string-matched error; avoiding the
	// driver-specific error type keeps this file buildable without cgo tags
	// leaking into the rest of the package.
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "PRIMARY KEY must be unique")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
