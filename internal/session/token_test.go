package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/justersync/internal/domain"
)

func TestParseToken(t *testing.T) {
	exp := testNow.Add(time.Hour).Truncate(time.Second)
	tok, err := ParseToken(signToken(t, testAddress, exp))
	require.NoError(t, err)

	assert.Equal(t, testAddress, tok.Subject)
	assert.True(t, tok.ExpiresAt.Equal(exp))
	assert.True(t, tok.IssuedAt.Equal(exp.Add(-time.Hour)))
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("abc.def")
	require.Error(t, err)
}

func TestTokenValidate(t *testing.T) {
	tok := Token{Subject: testAddress, ExpiresAt: testNow}

	assert.NoError(t, tok.Validate(testNow, testAddress))
	assert.ErrorIs(t, tok.Validate(testNow.Add(time.Second), testAddress), domain.ErrTokenExpired)
	assert.ErrorIs(t, tok.Validate(testNow, "0:other"), domain.ErrAddressMismatch)
	assert.ErrorIs(t, Token{Subject: testAddress}.Validate(testNow, testAddress), domain.ErrTokenExpired)
}
