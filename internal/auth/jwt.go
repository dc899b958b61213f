package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/directchat/internal/identity"
)

// JWTManager signs and validates the session tokens handed out after sign-in.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKid string            // kid used to sign new tokens; "" for the single-secret setup
	duration  time.Duration     // How long tokens are valid (e.g., 24 hours)
}

// Claims is the session token payload.
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	Name                 string `json:"name,omitempty"`
	Picture              string `json:"picture,omitempty"`
	jwt.RegisteredClaims        // Includes ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a JWTManager signing with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys supports key rotation: new tokens are signed with
// activeKid and carry it in the "kid" header; tokens signed with any key in
// keys still verify.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		copied[k] = v
	}
	return &JWTManager{keys: copied, activeKid: activeKid, duration: duration}
}

func (m *JWTManager) generate(claims *Claims) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Security check: ensure token was signed with HMAC (not asymmetric key)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueSession implements identity.Sessions. The identity is carried as
// the provider reported it so a restored session matches the sign-in that issued it.
func (m *JWTManager) IssueSession(id identity.Identity) (string, time.Time, error) {
	return m.generate(&Claims{
		UserID:  id.UID,
		Email:   id.Email,
		Name:    id.DisplayName,
		Picture: id.AvatarURL,
	})
}

// VerifySession implements identity.Sessions.
func (m *JWTManager) VerifySession(token string) (identity.Identity, time.Time, error) {
	claims, err := m.VerifyToken(token)
	if err != nil {
		return identity.Identity{}, time.Time{}, err
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return identity.Identity{
		UID:         claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
	}, expiresAt, nil
}
