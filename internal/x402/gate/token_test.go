package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteTokenRoundTrip(t *testing.T) {
	secret := []byte("secret")
	expiry := time.Now().Add(5 * time.Minute)
	binding := quoteBinding("203.0.113.9", "http://gateway.test/api/v1/data")

	token := signQuote(secret, "75000", expiry, "nonce-1", "0.1", binding)

	amount, nonce, cost, err := verifyQuote(secret, token, time.Now(), binding)
	require.NoError(t, err)
	assert.Equal(t, "75000", amount)
	assert.Equal(t, "nonce-1", nonce)
	assert.Equal(t, "0.1", cost)
}

func TestQuoteTokenExpired(t *testing.T) {
	secret := []byte("secret")
	binding := quoteBinding("203.0.113.9", "/api/v1/data")
	token := signQuote(secret, "75000", time.Now().Add(-time.Minute), "n", "0.1", binding)

	_, _, _, err := verifyQuote(secret, token, time.Now(), binding)
	assert.ErrorIs(t, err, errTokenExpired)
}

func TestQuoteTokenWrongSecret(t *testing.T) {
	binding := quoteBinding("203.0.113.9", "/api/v1/data")
	token := signQuote([]byte("secret-a"), "75000", time.Now().Add(time.Minute), "n", "0.1", binding)

	_, _, _, err := verifyQuote([]byte("secret-b"), token, time.Now(), binding)
	assert.ErrorIs(t, err, errTokenForged)
}

func TestQuoteTokenMalformed(t *testing.T) {
	binding := quoteBinding("203.0.113.9", "/api/v1/data")
	for _, token := range []string{"", "!!!", "aGVsbG8"} {
		_, _, _, err := verifyQuote([]byte("secret"), token, time.Now(), binding)
		assert.ErrorIs(t, err, errTokenMalformed, "token %q", token)
	}
}

func TestQuoteTokenAmountTamper(t *testing.T) {
	secret := []byte("secret")
	binding := quoteBinding("203.0.113.9", "/api/v1/data")
	token := signQuote(secret, "75000", time.Now().Add(time.Minute), "n", "0.1", binding)

	forged := signQuote([]byte("other"), "1", time.Now().Add(time.Minute), "n", "0.1", binding)
	require.NotEqual(t, token, forged)

	_, _, _, err := verifyQuote(secret, forged, time.Now(), binding)
	assert.ErrorIs(t, err, errTokenForged)
}

func TestQuoteTokenWrongBinding(t *testing.T) {
	secret := []byte("secret")
	issued := quoteBinding("203.0.113.9", "/api/v1/data")
	token := signQuote(secret, "10000", time.Now().Add(time.Minute), "n", "0.001", issued)

	tests := []struct {
		name    string
		binding string
	}{
		{"different path", quoteBinding("203.0.113.9", "/api/v1/stamps")},
		{"different caller", quoteBinding("198.51.100.1", "/api/v1/data")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := verifyQuote(secret, token, time.Now(), tc.binding)
			assert.ErrorIs(t, err, errTokenMismatched)
		})
	}
}

func TestQuoteBindingIgnoresQuery(t *testing.T) {
	with := quoteBinding("203.0.113.9", "http://gateway.test/api/v1/data?quote=abc")
	without := quoteBinding("203.0.113.9", "http://gateway.test/api/v1/data")
	assert.Equal(t, without, with, "the token's own query parameter must not change the binding")
}
