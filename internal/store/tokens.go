// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

// Token purposes.
const (
	TokenPurposePasswordReset = "password_reset"
	TokenPurposeEmailChange   = "email_change"
)

// Token is a single-use, time-limited token for password reset or email
// change. Only the SHA-256 of the token value is stored.
type Token struct {
	TokenHash string
	UserID    string
	Purpose   string
	Payload   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateTokenParams holds the columns of a new token.
type CreateTokenParams struct {
	TokenHash string
	UserID    string
	Purpose   string
	Payload   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateToken inserts a token, replacing any previous token with the same hash.
func (q *Queries) CreateToken(ctx context.Context, arg CreateTokenParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tokens (token_hash, user_id, purpose, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arg.TokenHash, arg.UserID, arg.Purpose, arg.Payload, arg.ExpiresAt, arg.CreatedAt)
	return err
}

// GetToken fetches a token by hash.
func (q *Queries) GetToken(ctx context.Context, tokenHash string) (Token, error) {
	var t Token
	err := q.db.QueryRowContext(ctx, `
		SELECT token_hash, user_id, purpose, payload, expires_at, created_at
		FROM tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.TokenHash, &t.UserID, &t.Purpose, &t.Payload, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

// DeleteToken removes a redeemed or invalidated token.
func (q *Queries) DeleteToken(ctx context.Context, tokenHash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM tokens WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteExpiredTokens removes all tokens past their expiry.
func (q *Queries) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, now)
	return err
}
