package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/directchat/internal/identity"
)

// IDTokenConfig configures verification of identity provider ID tokens.
// At least one of HMACKeys or RSAPublicKeyPEM must be set.
type IDTokenConfig struct {
	Issuer          string
	Audience        string
	HMACKeys        map[string]string // kid -> secret
	RSAPublicKeyPEM []byte
}

// IDTokenClaims are the OpenID Connect claims the chat reads.
type IDTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenVerifier is an identity.Provider that accepts ID tokens minted by
// an external identity provider.
type IDTokenVerifier struct {
	hmacKeys map[string][]byte
	rsaKey   *rsa.PublicKey
	parser   *jwt.Parser
}

var _ identity.Provider = (*IDTokenVerifier)(nil)

func NewIDTokenVerifier(cfg IDTokenConfig) (*IDTokenVerifier, error) {
	v := &IDTokenVerifier{hmacKeys: make(map[string][]byte, len(cfg.HMACKeys))}
	for kid, secret := range cfg.HMACKeys {
		v.hmacKeys[kid] = []byte(secret)
	}

	var methods []string
	if len(v.hmacKeys) > 0 {
		methods = append(methods, "HS256", "HS384", "HS512")
	}
	if len(cfg.RSAPublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.RSAPublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse id token public key: %w", err)
		}
		v.rsaKey = key
		methods = append(methods, "RS256", "RS384", "RS512")
	}
	if len(methods) == 0 {
		return nil, errors.New("id token verifier needs an HMAC key or an RSA public key")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func (v *IDTokenVerifier) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		kid, _ := token.Header["kid"].(string)
		if secret, ok := v.hmacKeys[kid]; ok {
			return secret, nil
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	case *jwt.SigningMethodRSA:
		if v.rsaKey == nil {
			return nil, errors.New("no RSA key configured")
		}
		return v.rsaKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

// BeginInteractiveSignIn verifies the credential's ID token and returns the
// identity it asserts.
func (v *IDTokenVerifier) BeginInteractiveSignIn(ctx context.Context, cred identity.Credential) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	if cred.IDToken == "" {
		return identity.Identity{}, errors.New("missing id token")
	}

	claims := &IDTokenClaims{}
	if _, err := v.parser.ParseWithClaims(cred.IDToken, claims, v.keyFor); err != nil {
		return identity.Identity{}, err
	}
	if claims.Subject == "" || claims.Email == "" {
		return identity.Identity{}, errors.New("id token lacks sub or email")
	}

	return identity.Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
	}, nil
}
