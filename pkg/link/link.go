package link

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Query parameters carried by a signed download link. The claim parameters
// bind the link to one tenant/deployment/device/artifact context; the expire
// and signature parameters make it time-limited and tamper-evident.
const (
	ParamTenantID     = "tenant_id"
	ParamDeploymentID = "deployment_id"
	ParamDeviceID     = "device_id"
	ParamDeviceType   = "device_type"
	ParamArtifactID   = "artifact_id"
	ParamExpire       = "x-dpl-expire"
	ParamSignature    = "x-dpl-signature"
)

var (
	// ErrMissingSignature and ErrMissingExpire mark requests that lack the
	// security parameters entirely (malformed rather than forbidden).
	ErrMissingSignature = errors.New("link: missing signature parameter")
	ErrMissingExpire    = errors.New("link: missing expire parameter")

	ErrBadExpire        = errors.New("link: expire parameter is not a valid timestamp")
	ErrExpired          = errors.New("link: URL expired")
	ErrInvalidSignature = errors.New("link: signature mismatch")
)

// Claims is the fixed set of values covered by a link signature. Keeping the
// set closed means the signature covers exactly the fields the verifier
// checks; nothing can be smuggled in through extra parameters.
type Claims struct {
	TenantID     string
	DeploymentID string
	DeviceID     string
	DeviceType   string
	ArtifactID   string
}

// Signer mints and verifies signed download URLs. It holds no mutable state;
// concurrent Sign and Verify calls are independent.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer using the provided HMAC secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("link: signing secret is required")
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// Sign produces a signed URL rooted at base (scheme://host/path) embedding the
// claims, an expiry ttl from now, and the HMAC signature over both.
func (s *Signer) Sign(base string, claims Claims, ttl time.Duration) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, errors.New("link: nil signer")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("link: parse base URL: %w", err)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("link: ttl must be positive")
	}

	expire := s.now().Add(ttl).UTC().Truncate(time.Second)

	q := u.Query()
	q.Set(ParamTenantID, claims.TenantID)
	q.Set(ParamDeploymentID, claims.DeploymentID)
	q.Set(ParamDeviceID, claims.DeviceID)
	q.Set(ParamDeviceType, claims.DeviceType)
	q.Set(ParamArtifactID, claims.ArtifactID)
	q.Set(ParamExpire, expire.Format(time.RFC3339))

	mac := s.hmac(u.Path, q)
	q.Set(ParamSignature, base64.RawURLEncoding.EncodeToString(mac))
	u.RawQuery = q.Encode()

	return u.String(), expire, nil
}

// Verify checks the expiry and signature of a previously signed URL and
// returns the embedded claims. The signature is recomputed over the received
// parameters and compared in constant time.
func (s *Signer) Verify(u *url.URL) (Claims, error) {
	if s == nil || u == nil {
		return Claims{}, errors.New("link: nil signer or URL")
	}

	q := u.Query()
	sig64 := q.Get(ParamSignature)
	if sig64 == "" {
		return Claims{}, ErrMissingSignature
	}
	rawExpire := q.Get(ParamExpire)
	if rawExpire == "" {
		return Claims{}, ErrMissingExpire
	}

	expire, err := time.Parse(time.RFC3339, rawExpire)
	if err != nil {
		return Claims{}, ErrBadExpire
	}
	if s.now().After(expire) {
		return Claims{}, ErrExpired
	}

	supplied, err := base64.RawURLEncoding.DecodeString(sig64)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	if !hmac.Equal(s.hmac(u.Path, q), supplied) {
		return Claims{}, ErrInvalidSignature
	}

	return Claims{
		TenantID:     q.Get(ParamTenantID),
		DeploymentID: q.Get(ParamDeploymentID),
		DeviceID:     q.Get(ParamDeviceID),
		DeviceType:   q.Get(ParamDeviceType),
		ArtifactID:   q.Get(ParamArtifactID),
	}, nil
}

// hmac digests the canonical claim string. The format follows the
// S3-signed-request convention of one key=value pair per line so the digest
// is unambiguous regardless of query encoding order.
func (s *Signer) hmac(path string, q url.Values) []byte {
	var b strings.Builder
	b.WriteString("GET\n")
	b.WriteString(path)
	b.WriteByte('\n')
	for _, key := range []string{
		ParamTenantID,
		ParamDeploymentID,
		ParamDeviceID,
		ParamDeviceType,
		ParamArtifactID,
		ParamExpire,
	} {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(q.Get(key))
		b.WriteByte('\n')
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(b.String()))
	return h.Sum(nil)
}
