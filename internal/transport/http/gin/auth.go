package httpgin

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ctxUserID = "user_id"
	ctxRole   = "user_role"
)

// AuthConfig describes the tokens issued by the external auth service.
type AuthConfig struct {
	Secret string
	Issuer string
}

// Claims carried by access tokens. Subject is the user UUID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies the HS256 bearer token and stores the caller's identity on
// the context.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.Secret)

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondErr(c, ErrUnauthorized)
			return
		}

		var claims Claims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			respondErr(c, ErrUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			respondErr(c, ErrUnauthorized)
			return
		}

		role := claims.Role
		if role != RoleAdmin {
			role = RoleUser
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			respondErr(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func callerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ctxUserID)
	v, _ := id.(uuid.UUID)
	return v
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(ctxRole) == RoleAdmin
}

// ownerScope is the ownership constraint for booking lookups: admins see
// every booking.
func ownerScope(c *gin.Context) uuid.UUID {
	if isAdmin(c) {
		return uuid.Nil
	}
	return callerID(c)
}
