package security

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/config"
	"github.com/stretchr/testify/require"
)

// issuer is a minimal OIDC provider serving discovery and a JWKS with one RSA key.
type issuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

func newIssuer(t *testing.T) *issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	iss := &issuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		base := iss.srv.URL
		writeJSON(w, map[string]any{
			"issuer":                                base,
			"authorization_endpoint":                base + "/auth",
			"token_endpoint":                        base + "/token",
			"jwks_uri":                              base + "/jwks",
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"keys": []map[string]any{iss.jwk()}})
	})
	iss.srv = httptest.NewServer(mux)
	t.Cleanup(iss.srv.Close)
	return iss
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func b64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func (i *issuer) jwk() map[string]any {
	pub := &i.key.PublicKey
	e := make([]byte, 4)
	binary.BigEndian.PutUint32(e, uint32(pub.E))
	for len(e) > 1 && e[0] == 0 {
		e = e[1:]
	}
	return map[string]any{"kty": "RSA", "alg": "RS256", "use": "sig", "kid": "k1", "n": b64(pub.N.Bytes()), "e": b64(e)}
}

func (i *issuer) token(t *testing.T, sub string) string {
	t.Helper()
	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "k1"})
	require.NoError(t, err)
	now := time.Now()
	payload, err := json.Marshal(map[string]any{
		"sub": sub,
		"iss": i.srv.URL,
		"aud": "ulists",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	input := b64(header) + "." + b64(payload)
	digest := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, i.key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return input + "." + b64(sig)
}

func TestResolve_OIDC(t *testing.T) {
	iss := newIssuer(t)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeProd
	cfg.OIDCIssuer = iss.srv.URL
	r := NewTokenResolver(&cfg)

	id, err := r.Resolve(context.Background(), iss.token(t, "alice"))
	require.NoError(t, err)
	require.Equal(t, "alice", id.UserID)

	_, err = r.Resolve(context.Background(), iss.token(t, ""))
	require.ErrorIs(t, err, errMissingIdentity)

	_, err = r.Resolve(context.Background(), "alice")
	require.ErrorIs(t, err, errOpaqueToken)

	cfg.Mode = config.ModeTesting
	r = NewTokenResolver(&cfg)
	id, err = r.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", id.UserID)
}
