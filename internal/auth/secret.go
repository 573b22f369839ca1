// Package auth covers the instance's credential primitives: the persistent
// HMAC secret, signed session tokens and password hashing.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// SecretSize is the byte length of the instance secret.
const SecretSize = 128

// LoadSecret fetches the instance secret from the meta table, generating and
// persisting a fresh one on first boot. The secret is immutable afterwards.
func LoadSecret(ctx context.Context, db *pgxpool.Pool) ([]byte, error) {
	var secret []byte
	err := db.QueryRow(ctx, "SELECT secret FROM meta").Scan(&secret)
	if err == nil {
		if len(secret) != SecretSize {
			return nil, fmt.Errorf("instance secret has %d bytes, want %d", len(secret), SecretSize)
		}
		return secret, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fetch instance secret: %w", err)
	}

	secret = make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate instance secret: %w", err)
	}
	if _, err := db.Exec(ctx, "INSERT INTO meta(secret) VALUES($1)", secret); err != nil {
		return nil, fmt.Errorf("store instance secret: %w", err)
	}

	log.Info().Msg("generated new instance secret")

	return secret, nil
}
