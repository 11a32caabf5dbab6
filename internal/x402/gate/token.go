package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Quote tokens bind a priced amount to a challenge so the amount the
// client was quoted is the amount verified, even if rates move between
// the challenge and the retry. The token rides inside the challenge's
// resource URL as a query parameter and comes back untouched in the
// proof's resource, so no per-challenge state is needed server side.
//
// The signature covers the BZZ cost the amount was derived from plus a
// binding digest of the caller and the resource path. A token quoted
// for one transaction cannot reprice a different one: reusing it on
// another route, from another address, or for an operation with a
// different underlying cost falls back to fresh pricing.
//
// Format before encoding: amount|unixExpiry|nonce|costBZZ|binding|hexHMAC,
// where the HMAC covers everything before it.

const quoteParam = "quote"

var (
	errTokenMalformed  = fmt.Errorf("quote token malformed")
	errTokenExpired    = fmt.Errorf("quote token expired")
	errTokenForged     = fmt.Errorf("quote token signature mismatch")
	errTokenMismatched = fmt.Errorf("quote token bound to a different request")
)

// quoteBinding digests the caller and the resource path the quote was
// issued for. The query string is excluded: the token itself rides there.
func quoteBinding(clientIP, resource string) string {
	path := resource
	if u, err := url.Parse(resource); err == nil {
		path = u.Path
	}
	sum := sha256.Sum256([]byte(clientIP + "\n" + path))
	return hex.EncodeToString(sum[:16])
}

func signQuote(secret []byte, amount string, expiry time.Time, nonce, costBZZ, binding string) string {
	payload := fmt.Sprintf("%s|%d|%s|%s|%s", amount, expiry.Unix(), nonce, costBZZ, binding)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	token := payload + "|" + hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

// verifyQuote returns the signed amount, nonce and BZZ cost if the token
// is intact, unexpired and bound to the given caller and resource. The
// caller still has to check the cost against the request being paid for.
func verifyQuote(secret []byte, token string, now time.Time, binding string) (amount, nonce, costBZZ string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", "", errTokenMalformed
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 6 {
		return "", "", "", errTokenMalformed
	}
	amount, expiryStr, nonce, costBZZ, boundTo, sigHex := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", "", "", errTokenMalformed
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%s|%s|%s|%s", amount, expiryStr, nonce, costBZZ, boundTo)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", "", "", errTokenForged
	}

	if boundTo != binding {
		return "", "", "", errTokenMismatched
	}

	expiryUnix, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return "", "", "", errTokenMalformed
	}
	if now.After(time.Unix(expiryUnix, 0)) {
		return "", "", "", errTokenExpired
	}

	return amount, nonce, costBZZ, nil
}
