package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is the gin context key for the authenticated account id.
const ContextKeyUserID = "userID"

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	UserID string
}

// TokenResolver resolves bearer tokens to caller identities. It is initialized once at startup.
type TokenResolver struct {
	verifier    *oidc.IDTokenVerifier
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	oidcIssuer := cfg.OIDCIssuer

	if oidcIssuer != "" {
		ctx := context.Background()
		expectedIssuer := oidcIssuer
		discoveryURL := cfg.OIDCDiscoveryURL
		if discoveryURL != "" && discoveryURL != oidcIssuer {
			// Discovery URL differs from issuer (e.g. internal Docker hostname vs external URL).
			// InsecureIssuerURLContext tells NewProvider to accept a mismatched issuer in the
			// discovery document.
			ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
			oidcIssuer = discoveryURL
		}
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider; only opaque tokens will be accepted", "issuer", oidcIssuer, "err", err)
		} else {
			// Tokens carry the external issuer, so build the verifier against it
			// when discovery went through an internal URL.
			var providerClaims struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if expectedIssuer != oidcIssuer {
				if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
					keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
					verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{
						SkipClientIDCheck: true,
					})
				}
			}
			if verifier == nil {
				verifier = provider.Verifier(&oidc.Config{
					SkipClientIDCheck: true,
				})
			}
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	return &TokenResolver{
		verifier:    verifier,
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errOpaqueToken     = errors.New("opaque tokens are not accepted when OIDC is enabled")
)

// Resolve resolves a bearer token (without the "Bearer " prefix) into a caller Identity.
//
// With OIDC configured, JWTs are verified and the account id is taken from the
// "sub" claim. Without OIDC, or in testing mode, any other token is used
// verbatim as the account id.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return nil, errMissingIdentity
	}

	if r.verifier != nil && strings.Count(bearerToken, ".") >= 2 {
		idToken, err := r.verifier.Verify(ctx, bearerToken)
		if err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		if claims.Sub == "" {
			return nil, errMissingIdentity
		}
		return &Identity{UserID: claims.Sub}, nil
	}

	if r.verifier != nil && !r.testingMode {
		return nil, errOpaqueToken
	}
	return &Identity{UserID: bearerToken}, nil
}

// --- Gin HTTP middleware ---

// GetUserID returns the authenticated account id from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// AuthMiddleware returns a gin middleware that extracts the caller identity from the
// Authorization header using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": "missing Authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": "invalid Authorization header; expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Next()
	}
}
