package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
	}{
		{name: "regular password", password: "password123"},
		{name: "password with special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "unicode password", password: "пароль-борщ-2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)

			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, bcrypt.MinCost, cost)

			assert.NoError(t, h.Compare(hash, tt.password))
			assert.ErrorIs(t, h.Compare(hash, tt.password+"x"), ErrMismatch)
		})
	}
}

func TestHasher_CostOutOfRangeFallsBackToDefault(t *testing.T) {
	h, err := New(0)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, h.Cost())
}

func TestHasher_CompareDummyAlwaysMismatch(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	require.NoError(t, err)

	assert.ErrorIs(t, h.CompareDummy("timing-equalizer"), ErrMismatch)
	assert.ErrorIs(t, h.CompareDummy("anything"), ErrMismatch)
}

func TestHasher_CompareMalformedHash(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	require.NoError(t, err)

	err = h.Compare("not-a-bcrypt-hash", "password")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMismatch)
}
