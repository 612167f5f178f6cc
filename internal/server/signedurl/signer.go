// Package signedurl issues and verifies time-limited HMAC capabilities that
// authorize one chunk upload for one (session, chunk number, user) triple.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/cryptox"
)

// DefaultTTL is used when Generate is called with a zero ttl.
const DefaultTTL = time.Hour

// Query parameter names carried by a signed chunk URL.
const (
	ParamSignature = "signature"
	ParamExpires   = "expires"
	ParamUserID    = "user_id"
)

const keyPurpose = "chunkkeeper/signed-chunk-url/v1"

// Grant is one signed descriptor.
type Grant struct {
	SessionID   string    `json:"session_id"`
	ChunkNumber int       `json:"chunk_number"`
	UserID      string    `json:"user_id"`
	Signature   string    `json:"signature"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Query returns the URL parameters a client appends to the chunk endpoint.
func (g Grant) Query() url.Values {
	v := url.Values{}
	v.Set(ParamSignature, g.Signature)
	v.Set(ParamExpires, strconv.FormatInt(g.ExpiresAt.Unix(), 10))
	v.Set(ParamUserID, g.UserID)
	return v
}

type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner derives the MAC key from secret with HKDF, so the JWT secret
// can be reused without the two MACs sharing a key.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signed url secret is empty")
	}
	key, err := cryptox.DeriveKey([]byte(secret), keyPurpose, sha256.Size)
	if err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Generate signs the triple. A zero ttl means the signer default; a
// negative ttl yields an already expired grant.
func (s *Signer) Generate(sessionID string, chunkNumber int, userID string, ttl time.Duration) Grant {
	if ttl == 0 {
		ttl = s.ttl
	}
	expires := s.now().Add(ttl).Truncate(time.Second)
	return Grant{
		SessionID:   sessionID,
		ChunkNumber: chunkNumber,
		UserID:      userID,
		Signature:   s.sign(sessionID, chunkNumber, userID, expires.Unix()),
		ExpiresAt:   expires,
	}
}

// GenerateBatch signs each chunk number independently.
func (s *Signer) GenerateBatch(sessionID string, chunkNumbers []int, userID string, ttl time.Duration) []Grant {
	out := make([]Grant, 0, len(chunkNumbers))
	for _, n := range chunkNumbers {
		out = append(out, s.Generate(sessionID, n, userID, ttl))
	}
	return out
}

// Verify checks a grant presented as raw request parameters. expires is
// Unix seconds as a decimal string.
func (s *Signer) Verify(sessionID string, chunkNumber int, userID, signature, expires string) error {
	if signature == "" || expires == "" || userID == "" {
		return common.ErrMissingSignatureParameters
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed expiry", common.ErrInvalidSignature)
	}
	if s.now().Unix() > exp {
		return fmt.Errorf("%w: expired at %s", common.ErrSignatureExpired, time.Unix(exp, 0).UTC().Format(time.RFC3339))
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return common.ErrInvalidSignature
	}
	want, _ := hex.DecodeString(s.sign(sessionID, chunkNumber, userID, exp))
	if !hmac.Equal(got, want) {
		return common.ErrInvalidSignature
	}
	return nil
}

// VerifyQuery is Verify with parameters taken from a request query.
func (s *Signer) VerifyQuery(sessionID string, chunkNumber int, q url.Values) (userID string, err error) {
	userID = q.Get(ParamUserID)
	if err := s.Verify(sessionID, chunkNumber, userID, q.Get(ParamSignature), q.Get(ParamExpires)); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Signer) sign(sessionID string, chunkNumber int, userID string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload(sessionID, chunkNumber, userID, expires)))
	return hex.EncodeToString(mac.Sum(nil))
}

// payload prefixes every field with its length, so no choice of IDs can make
// two different grants serialize to the same bytes.
func payload(sessionID string, chunkNumber int, userID string, expires int64) string {
	var b strings.Builder
	for _, f := range []string{sessionID, strconv.Itoa(chunkNumber), userID, strconv.FormatInt(expires, 10)} {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
