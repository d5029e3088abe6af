// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/pkg/errutil"
)

// fastParams keeps argon2 cheap in tests.
var fastParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func fastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(fastParams)
}

func TestHashPassword(t *testing.T) {
	hasher := fastHasher()

	t.Run("produces PHC encoded argon2id hash", func(t *testing.T) {
		hash, err := hasher.Hash("Abcdef12")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
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

	t.Run("default hasher uses OWASP parameters", func(t *testing.T) {
		hash, err := auth.NewArgon2idHasher().Hash("Abcdef12")
		require.NoError(t, err)
		assert.Contains(t, hash, "$m=65536,t=1,p=4$")
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := fastHasher()

	for _, p := range []string{"Abcdef12", "x", "pässwörd with spaces", strings.Repeat("z", 200)} {
		hash, err := hasher.Hash(p)
		require.NoError(t, err)

		result, err := hasher.Verify(p, hash)
		require.NoError(t, err)
		assert.Equal(t, auth.VerifySuccess, result, "plaintext %q", p)

		result, err = hasher.Verify(p+"x", hash)
		require.NoError(t, err)
		assert.Equal(t, auth.VerifyFailed, result, "plaintext %q", p)
	}
}

func TestVerifyPassword_RehashNeeded(t *testing.T) {
	old := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 512, Threads: 1, SaltLen: 16, KeyLen: 32})
	hash, err := old.Hash("Abcdef12")
	require.NoError(t, err)

	current := fastHasher()

	t.Run("outdated parameters signal rehash on success", func(t *testing.T) {
		result, err := current.Verify("Abcdef12", hash)
		require.NoError(t, err)
		assert.Equal(t, auth.VerifySuccessRehashNeeded, result)
		assert.True(t, result.OK())
	})

	t.Run("outdated parameters still fail on wrong password", func(t *testing.T) {
		result, err := current.Verify("Abcdef13", hash)
		require.NoError(t, err)
		assert.Equal(t, auth.VerifyFailed, result)
		assert.False(t, result.OK())
	})
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	hasher := fastHasher()

	tests := []struct {
		name     string
		hash     string
		contains string
	}{
		{name: "not a PHC string", hash: "not-a-valid-hash"},
		{name: "wrong algorithm", hash: "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", contains: "unsupported hash algorithm"},
		{name: "invalid version", hash: "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{name: "invalid parameters", hash: "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{name: "invalid salt", hash: "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA"},
		{name: "invalid key", hash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!"},
		{name: "threads overflow", hash: "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", contains: "threads value"},
		{name: "zero threads", hash: "$argon2id$v=19$m=65536,t=1,p=0$c2FsdA$aGFzaA", contains: "threads value"},
		{name: "zero time", hash: "$argon2id$v=19$m=65536,t=0,p=4$c2FsdA$aGFzaA", contains: "time value"},
		{name: "memory below threads minimum", hash: "$argon2id$v=19$m=31,t=1,p=4$c2FsdA$aGFzaA", contains: "memory value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
			assert.Equal(t, auth.VerifyFailed, result)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestVerifyResult_String(t *testing.T) {
	assert.Equal(t, "success", auth.VerifySuccess.String())
	assert.Equal(t, "success_rehash_needed", auth.VerifySuccessRehashNeeded.String())
	assert.Equal(t, "failed", auth.VerifyFailed.String())
}
