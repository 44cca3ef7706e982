package policy

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorClaims are the JWT claims carried by an API access token. The token is
// the sole source of actor identity for the policy engine: role, site scope,
// and (for patients) the owned patient_id travel inside the signed claims.
type ActorClaims struct {
	jwt.RegisteredClaims
	Role      Role     `json:"role"`
	PatientID string   `json:"patient_id,omitempty"`
	SiteIDs   []string `json:"site_ids,omitempty"`
}

// TokenIssuer issues and verifies actor tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. issuerURL becomes the "iss" claim;
// ttl defaults to one hour.
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed token for the given actor.
func (t *TokenIssuer) Issue(actor Actor) (string, error) {
	now := time.Now().UTC()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Role:      actor.Role,
		PatientID: actor.PatientID,
		SiteIDs:   actor.SiteIDs,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the embedded actor.
func (t *TokenIssuer) Verify(tokenStr string) (*Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ActorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	return &Actor{
		ID:        claims.Subject,
		Role:      claims.Role,
		PatientID: claims.PatientID,
		SiteIDs:   claims.SiteIDs,
	}, nil
}
