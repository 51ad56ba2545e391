// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/auth"
)

func TestHashPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces valid hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	})

	t.Run("different passwords produce different hashes", func(t *testing.T) {
		hash1, err := hasher.Hash("password1")
		require.NoError(t, err)
		hash2, err := hasher.Hash("password2")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("correct password verifies", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("wrongpassword", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed hash returns error, not panic", func(t *testing.T) {
		ok, err := hasher.Verify("password", "not-a-hash")
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("unsupported algorithm returns error", func(t *testing.T) {
		ok, err := hasher.Verify("password", "$scrypt$v=1$x$y$z")
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("truncated hash returns error", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)

		ok, err := hasher.Verify("password", hash[:len(hash)-10]+"!!")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("secret123"), 10)
	require.NoError(t, err)

	t.Run("correct password verifies against bcrypt hash", func(t *testing.T) {
		ok, err := hasher.Verify("secret123", string(legacy))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails against bcrypt hash", func(t *testing.T) {
		ok, err := hasher.Verify("wrong", string(legacy))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bcrypt hash needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade(string(legacy)))
	})
}

func TestNeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("argon2id hash does not need upgrade", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})

	t.Run("unknown format needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("plain-md5-or-whatever"))
	})
}
