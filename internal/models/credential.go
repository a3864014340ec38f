// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Credential is the stored debrid authorization state. ExpiresAt nil means
// the remote issued a non-expiring token, which is the common case for this
// service.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the credential declares an expiry that has passed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// CredentialStore persists the single debrid credential with tokens
// encrypted at rest.
type CredentialStore struct {
	db            *sql.DB
	encryptionKey []byte
}

func NewCredentialStore(db *sql.DB, encryptionKey []byte) (*CredentialStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &CredentialStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// encrypt encrypts a string using AES-GCM
func (s *CredentialStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string encrypted with encrypt
func (s *CredentialStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// Save replaces the stored credential. Only one credential exists per
// daemon instance; multi-account support is explicitly out of scope.
func (s *CredentialStore) Save(ctx context.Context, cred *Credential) error {
	accessEncrypted, err := s.encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEncrypted, err := s.encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	secretEncrypted, err := s.encrypt(cred.ClientSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt client secret: %w", err)
	}

	var expiresAt sql.NullString
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullString{String: cred.ExpiresAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credential (id, access_token_encrypted, refresh_token_encrypted, client_id, client_secret_encrypted, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token_encrypted = excluded.access_token_encrypted,
			refresh_token_encrypted = excluded.refresh_token_encrypted,
			client_id = excluded.client_id,
			client_secret_encrypted = excluded.client_secret_encrypted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		accessEncrypted,
		refreshEncrypted,
		cred.ClientID,
		secretEncrypted,
		expiresAt,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// Get returns the stored credential with tokens decrypted, or
// ErrCredentialNotFound when the user has never signed in (or signed out).
func (s *CredentialStore) Get(ctx context.Context) (*Credential, error) {
	var accessEncrypted, refreshEncrypted, clientID, secretEncrypted string
	var expiresAt sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token_encrypted, refresh_token_encrypted, client_id, client_secret_encrypted, expires_at, updated_at
		FROM credential
		WHERE id = 1
	`).Scan(&accessEncrypted, &refreshEncrypted, &clientID, &secretEncrypted, &expiresAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	access, err := s.decrypt(accessEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.decrypt(refreshEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	secret, err := s.decrypt(secretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client secret: %w", err)
	}

	cred := &Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ClientID:     clientID,
		ClientSecret: secret,
	}

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credential expiry: %w", err)
		}
		cred.ExpiresAt = &t
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cred.UpdatedAt = t
	}

	return cred, nil
}

// Delete removes the stored credential, forcing a full re-authentication.
func (s *CredentialStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
