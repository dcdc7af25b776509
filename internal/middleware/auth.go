// Package middleware provides authentication, authorization and request
// plumbing middleware for the API.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"fanvault/internal/config"
	"fanvault/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"

	LocalUserID     = "userID"
	LocalIsReviewer = "isReviewer"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// Claims is the identity carried by an access token.
type Claims struct {
	UserID uint
	Role   string
}

// IsReviewer reports whether the token grants moderation rights.
func (c Claims) IsReviewer() bool {
	return c.Role == RoleReviewer || c.Role == RoleAdmin
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	claims, err := ParseToken(parts[1], cfg.JWTSecret)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	c.Locals(LocalUserID, claims.UserID)
	c.Locals(LocalIsReviewer, claims.IsReviewer())
	c.SetUserContext(WithUserID(c.UserContext(), claims.UserID))
	return c.Next()
}

// ReviewerRequired rejects callers whose token does not carry a reviewer
// role. It must run after AuthRequired.
func ReviewerRequired(c *fiber.Ctx) error {
	if ok, _ := c.Locals(LocalIsReviewer).(bool); !ok {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Reviewer access required"))
	}
	return c.Next()
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(LocalUserID).(uint)
	return id, ok && id != 0
}

var (
	errInvalidToken   = errors.New("Invalid or expired token")
	errInvalidSubject = errors.New("Invalid user ID in token")
)

// ParseToken validates an HMAC-signed token and extracts its claims. The
// subject claim (per RFC 7519) holds the decimal user id.
func ParseToken(tokenString, secret string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, errInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errInvalidToken
	}

	subStr, ok := mapClaims["sub"].(string)
	if !ok {
		return Claims{}, errInvalidSubject
	}
	userID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userID == 0 {
		return Claims{}, errInvalidSubject
	}

	role, _ := mapClaims["role"].(string)
	return Claims{UserID: uint(userID), Role: strings.ToLower(role)}, nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(msg))
}
