package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const tokenLeeway = 30 * time.Second

var errNoSubject = errors.New("token has no usable subject")

// JWTProtected validates HMAC-signed bearer tokens and stores the subject and
// role in Locals. WebSocket upgrades may pass the token as ?access_token=
// because browsers cannot set headers on the handshake.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(tokenLeeway),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		raw, message := bearerToken(c)
		if message != "" {
			return utils.SendError(c, fiber.StatusUnauthorized, message)
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, err := subjectFromClaims(claims)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}
		c.Locals("user_id", userID)
		if role := roleFromClaims(claims); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, string) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		if token := c.Query("access_token"); token != "" && isWebSocketHandshake(c) {
			return token, ""
		}
		return "", "authorization header missing"
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", "invalid authorization header"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "invalid token"
	}
	return token, ""
}

func isWebSocketHandshake(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func subjectFromClaims(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if id, err := normalizeUserID(value); err == nil {
				return id, nil
			}
		}
	}
	return "", errNoSubject
}

// normalizeUserID accepts uuid subjects as well as legacy numeric ids.
func normalizeUserID(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	case float64:
		if v >= 0 && v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", errNoSubject
}

// roleFromClaims prefers app_metadata.role, where hosted auth providers keep
// application roles, over the top-level role claim.
func roleFromClaims(claims jwt.MapClaims) string {
	if metadata, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if role := firstRole(metadata["role"]); role != "" {
			return role
		}
	}
	if role := firstRole(claims["role"]); role != "" {
		return role
	}
	return firstRole(claims["roles"])
}

func firstRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if role := firstRole(item); role != "" {
				return role
			}
		}
	}
	return ""
}
