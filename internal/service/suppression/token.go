package suppression

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenSigner issues and verifies the opaque token carried by unsubscribe
// links.
type TokenSigner interface {
	// Sign returns a URL-safe token binding email to listID.
	Sign(email, listID string) (string, error)
	// Verify checks token against email and returns the list id it was
	// issued for.
	Verify(email, token string) (listID string, err error)
}

// HMACSigner signs tokens with HMAC-SHA256. A token is
// base64url(listID "|" issuedUnix) "." base64url(mac) where the MAC covers
// the email as well, so a token cannot be replayed for another address.
type HMACSigner struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewHMACSigner returns a signer for key. maxAge of zero disables expiry.
func NewHMACSigner(key string, maxAge time.Duration) *HMACSigner {
	return &HMACSigner{key: []byte(key), maxAge: maxAge, now: time.Now}
}

func (s *HMACSigner) mac(email, payload string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(strings.ToLower(email)))
	h.Write([]byte{0})
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// Sign implements TokenSigner.
func (s *HMACSigner) Sign(email, listID string) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoSigner
	}
	payload := listID + "|" + strconv.FormatInt(s.now().Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(email, payload)), nil
}

// Verify implements TokenSigner.
func (s *HMACSigner) Verify(email, token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidToken
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidToken
	}
	payload := string(raw)
	if !hmac.Equal(mac, s.mac(email, payload)) {
		return "", ErrInvalidToken
	}

	listID, issued, ok := strings.Cut(payload, "|")
	if !ok {
		return "", ErrInvalidToken
	}
	unix, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if s.maxAge > 0 && s.now().Sub(time.Unix(unix, 0)) > s.maxAge {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return listID, nil
}
