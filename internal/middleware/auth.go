// Package middleware provides the Fiber middleware shared by the API routes.
package middleware

import (
	"slices"
	"strings"

	"dhoka/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Roles allowed to moderate posts.
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// AuthRequired validates an HMAC-signed bearer token and requires one of
// roles in its "role" or "roles" claim. The subject is stored in
// c.Locals("userID") and the granted roles in c.Locals("roles").
func AuthRequired(secret string, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return models.RespondWithError(c, 0, models.NewUnauthorizedError("Authorization header required"))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return models.RespondWithError(c, 0, models.NewUnauthorizedError("Invalid authorization header format"))
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return models.RespondWithError(c, 0, models.NewUnauthorizedError("Invalid or expired token"))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return models.RespondWithError(c, 0, models.NewUnauthorizedError("Invalid token claims"))
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return models.RespondWithError(c, 0, models.NewUnauthorizedError("Invalid token structure - missing subject"))
		}

		granted := rolesFromClaims(claims)
		if len(roles) > 0 && !slices.ContainsFunc(granted, func(r string) bool {
			return slices.Contains(roles, r)
		}) {
			return models.RespondWithError(c, 0, models.NewForbiddenError("Insufficient role"))
		}

		c.Locals("userID", sub)
		c.Locals("roles", granted)
		return c.Next()
	}
}

// rolesFromClaims accepts either a single "role" string or a "roles" list.
func rolesFromClaims(claims jwt.MapClaims) []string {
	var out []string
	if r, ok := claims["role"].(string); ok && r != "" {
		out = append(out, r)
	}
	switch v := claims["roles"].(type) {
	case []interface{}:
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}
