package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hjunqq/hydrosim-platform/internal/auth"
	"github.com/hjunqq/hydrosim-platform/internal/errors"
)

const actorContextKey = "actor"

// DeployTokenHeader carries a signed deploy-trigger token. It is honored
// only by the deploy endpoint.
const DeployTokenHeader = "X-Deploy-Token"

// actorClaims is the session token payload issued by the auth surface.
type actorClaims struct {
	Role        string `json:"role"`
	StudentCode string `json:"student_code,omitempty"`
	jwt.RegisteredClaims
}

// RequireActor builds the Actor for a request from the session bearer
// token. When allowDeployToken is set, a deploy-trigger token is accepted
// as an alternative; that variant authorizes the deploy operation only.
func RequireActor(jwtSecret, deployTokenSecret string, allowDeployToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allowDeployToken {
			if token := c.GetHeader(DeployTokenHeader); token != "" {
				actor, err := auth.ParseDeployToken(deployTokenSecret, token)
				if err != nil {
					respondError(c, err)
					c.Abort()
					return
				}
				c.Set(actorContextKey, actor)
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(c, errors.ErrForbidden.WithMessage("Missing bearer token"))
			c.Abort()
			return
		}

		actor, err := parseActorToken(jwtSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func parseActorToken(secret, tokenString string) (auth.Actor, error) {
	claims := &actorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return auth.Actor{}, errors.ErrForbidden.WithMessage("Invalid session token").WithError(err)
	}

	var id int64
	fmt.Sscanf(claims.Subject, "%d", &id)

	switch auth.Role(claims.Role) {
	case auth.RoleAdmin:
		return auth.Admin(), nil
	case auth.RoleTeacher:
		return auth.Teacher(id), nil
	case auth.RoleStudent:
		return auth.Student(id, claims.StudentCode), nil
	}
	return auth.Actor{}, errors.ErrForbidden.WithMessage("Unknown role")
}

func actorFrom(c *gin.Context) auth.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(auth.Actor); ok {
			return actor
		}
	}
	return auth.Actor{}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errors.GetHTTPStatus(err), errors.GetErrorResponse(err))
}

