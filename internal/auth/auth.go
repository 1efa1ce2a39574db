package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultOrgClaim = "org_id"

// Identity is what a verified access token tells us about the caller.
type Identity struct {
	UserID         string
	OrganizationID string
	ExpiresAt      time.Time
}

// TokenValidator verifies access tokens issued by the identity provider.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Identity, error)
}

// JWTValidator accepts RS256 tokens signed by the identity provider. The user
// is the `sub` claim; the organization claim is optional.
type JWTValidator struct {
	PublicKey *rsa.PublicKey
	Issuer    string
	OrgClaim  string
}

func NewJWTValidator(key *rsa.PublicKey, issuer, orgClaim string) *JWTValidator {
	if orgClaim == "" {
		orgClaim = DefaultOrgClaim
	}
	return &JWTValidator{PublicKey: key, Issuer: issuer, OrgClaim: orgClaim}
}

func (v *JWTValidator) ValidateToken(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.PublicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}
	if !token.Valid {
		return nil, internal.ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, internal.ErrInvalidToken
	}
	identity := &Identity{UserID: sub}
	if org, ok := claims[v.OrgClaim].(string); ok {
		identity.OrganizationID = org
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	return identity, nil
}
