// Package identity implements Inkstone's signed visitor-identity cookie
// and daily stats id derivation (spec.md §4.6, C9): the same HMAC-SHA256 +
// hmac.Equal constant-time verification pattern used for webhook
// signatures, applied to a client-held cookie instead of a request body.
package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkstone/internal/apierr"
)

const (
	CookieName   = "bid"
	cookieMaxAge = 365 * 24 * time.Hour
	tokenBytes   = 16
	statsIDBytes = 16
)

// Minter mints and verifies bid cookies under a fixed secret.
type Minter struct {
	cookieSecret []byte
	statsSecret  []byte
}

func New(cookieSecret, statsSecret string) *Minter {
	return &Minter{cookieSecret: []byte(cookieSecret), statsSecret: []byte(statsSecret)}
}

// Mint generates a fresh token+signature pair and the *http.Cookie to set.
func (m *Minter) Mint() (token string, cookie *http.Cookie, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("%w: generate bid token: %v", apierr.ErrUpstream, err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	sig := m.sign(token)
	value := token + "." + sig

	return token, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (m *Minter) sign(token string) string {
	mac := hmac.New(sha256.New, m.cookieSecret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify splits value on the last "." and constant-time-compares the
// recomputed signature, returning the bare token on success.
func (m *Minter) Verify(value string) (token string, ok bool) {
	idx := strings.LastIndex(value, ".")
	if idx <= 0 || idx == len(value)-1 {
		return "", false
	}
	token, gotSig := value[:idx], value[idx+1:]
	wantSig := m.sign(token)
	if !hmac.Equal([]byte(gotSig), []byte(wantSig)) {
		return "", false
	}
	return token, true
}

// FromRequest reads and verifies the bid cookie from r, if present.
func (m *Minter) FromRequest(r *http.Request) (token string, ok bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	return m.Verify(c.Value)
}

// DailyStatsId derives the per-day visitor token: the first 16 bytes of
// HMAC-SHA256(stats_secret, bid_token ∥ UTC_date_ISO), rotating at UTC
// midnight (spec.md §4.6).
func (m *Minter) DailyStatsId(bidToken string, at time.Time) string {
	date := at.UTC().Format("2006-01-02")
	mac := hmac.New(sha256.New, m.statsSecret)
	mac.Write([]byte(bidToken))
	mac.Write([]byte(date))
	sum := mac.Sum(nil)[:statsIDBytes]
	return base64.RawURLEncoding.EncodeToString(sum)
}
