package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
)

const deployTokenScope = "deploy"

// deployTokenClaims is the payload of a signed deploy-trigger token. The
// token authorizes the deploy operation for one student code and nothing
// else.
type deployTokenClaims struct {
	StudentCode string `json:"student_code"`
	Scope       string `json:"scope"`
	jwt.RegisteredClaims
}

// IssueDeployToken signs a deploy-trigger token for a student code.
func IssueDeployToken(secret, studentCode string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("deploy token secret is not configured")
	}

	now := time.Now().UTC()
	claims := deployTokenClaims{
		StudentCode: studentCode,
		Scope:       deployTokenScope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseDeployToken validates a deploy-trigger token and returns the
// deploy-token actor it represents.
func ParseDeployToken(secret, tokenString string) (Actor, error) {
	if secret == "" {
		return Actor{}, errors.ErrForbidden.WithMessage("Deploy tokens are not enabled")
	}

	claims := &deployTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, errors.ErrForbidden.WithMessage("Invalid deploy token").WithError(err)
	}
	if claims.Scope != deployTokenScope || claims.StudentCode == "" {
		return Actor{}, errors.ErrForbidden.WithMessage("Invalid deploy token")
	}

	return DeployToken(claims.StudentCode), nil
}
