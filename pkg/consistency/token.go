package consistency

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mabumohsen/veggieshop-sub000/pkg/cryptoutil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Token is the decoded form of a consistency token: {tenant, issuedAtMillis,
// watermarkMillis, entityVersion?} bound to the signer key id.
type Token struct {
	Tenant          tenant.ID `json:"tenant"`
	IssuedAtMillis  int64     `json:"iat_ms"`
	WatermarkMillis int64     `json:"wm_ms"`
	EntityVersion   *int64    `json:"ev,omitempty"`
	KeyID           string    `json:"kid"`
}

// wireToken is the on-the-wire container; sig is appended after the rest
// of the payload is canonically marshaled and signed.
type wireToken struct {
	V   int       `json:"v"`
	T   tenant.ID `json:"tenant"`
	IAT int64     `json:"iat_ms"`
	WM  int64     `json:"wm_ms"`
	EV  *int64    `json:"ev,omitempty"`
	Kid string    `json:"kid"`
	Sig string    `json:"sig"`
}

const tokenVersion = 1

// Signer produces and verifies detached signatures over arbitrary bytes,
// keyed by an identifier so verification can select the right key.
type Signer interface {
	KeyID() string
	Sign(data []byte) ([]byte, error)
	Verify(keyID string, data, sig []byte) bool
}

// HMACSigner is a Signer backed by a single HMAC-SHA256 key, suitable for
// single-issuer deployments or as the default for tests.
type HMACSigner struct {
	keyID string
	key   []byte
}

// NewHMACSigner builds a Signer identified by keyID and backed by key.
func NewHMACSigner(keyID string, key []byte) *HMACSigner {
	return &HMACSigner{keyID: keyID, key: key}
}

func (s *HMACSigner) KeyID() string { return s.keyID }

func (s *HMACSigner) Sign(data []byte) ([]byte, error) {
	return cryptoutil.HMACSign(cryptoutil.AlgSHA256, s.key, data)
}

func (s *HMACSigner) Verify(keyID string, data, sig []byte) bool {
	if keyID != s.keyID {
		return false
	}
	want, err := cryptoutil.HMACSign(cryptoutil.AlgSHA256, s.key, data)
	if err != nil {
		return false
	}
	return cryptoutil.ConstantTimeEqual(want, sig)
}

func payloadBytes(t tenant.ID, iat, wm int64, ev *int64, kid string) []byte {
	evField := int64(-1)
	hasEV := ev != nil
	if hasEV {
		evField = *ev
	}
	s := fmt.Sprintf("%s|%d|%d|%t|%d|%s", string(t), iat, wm, hasEV, evField, kid)
	return []byte(s)
}

// Emit produces sign(tenant || issuedAtMillis || watermarkMillis ||
// entityVersion?) under signer's key id, serialized base64url-nopad.
func Emit(signer Signer, t tenant.ID, issuedAtMillis, watermarkMillis int64, entityVersion *int64) (string, error) {
	kid := signer.KeyID()
	payload := payloadBytes(t, issuedAtMillis, watermarkMillis, entityVersion, kid)
	sig, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	wt := wireToken{
		V:   tokenVersion,
		T:   t,
		IAT: issuedAtMillis,
		WM:  watermarkMillis,
		EV:  entityVersion,
		Kid: kid,
		Sig: base64.RawURLEncoding.EncodeToString(sig),
	}
	b, err := json.Marshal(wt)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Verify decodes and validates a token string, checking the signature,
// tenant match, and TTL+clockSkew window. nowMillis, ttlMillis, and
// skewMillis are all caller-supplied so the check is deterministic in
// tests.
func Verify(signer Signer, raw string, expectTenant tenant.ID, nowMillis, ttlMillis, skewMillis int64) (Token, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "malformed consistency token", nil)
	}
	var wt wireToken
	if err := json.Unmarshal(decoded, &wt); err != nil {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "malformed consistency token", nil)
	}
	if wt.V != tokenVersion {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "unsupported consistency token version", nil)
	}
	sig, err := base64.RawURLEncoding.DecodeString(wt.Sig)
	if err != nil {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "malformed consistency token signature", nil)
	}
	payload := payloadBytes(wt.T, wt.IAT, wt.WM, wt.EV, wt.Kid)
	if !signer.Verify(wt.Kid, payload, sig) {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "consistency token signature mismatch", nil)
	}
	if wt.T != expectTenant {
		return Token{}, problem.New(problem.TenantMismatch, "consistency token tenant mismatch", nil)
	}
	if nowMillis-wt.IAT > ttlMillis+skewMillis {
		return Token{}, problem.New(problem.ConsistencyTokenRequired, "consistency token expired", nil)
	}
	return Token{
		Tenant:          wt.T,
		IssuedAtMillis:  wt.IAT,
		WatermarkMillis: wt.WM,
		EntityVersion:   wt.EV,
		KeyID:           wt.Kid,
	}, nil
}
