package middlewares

import (
	"errors"
	"strings"
	"time"

	"brokerage-backend/keys"
	"brokerage-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

var validSigningMethods = []string{keys.AlgHS256, keys.AlgEdDSA}

// Claims is our custom JWT payload (subject=userID, plus role).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a new token with the store's active key, expiring in 24h.
// The key's KID travels in the token header so verification can resolve it
// directly.
func GenerateJWT(ks *keys.Store, userID, role string) (string, error) {
	rec, err := ks.ActiveSigningKey()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.GetSigningMethod(rec.Algorithm), claims)
	token.Header["kid"] = rec.KID
	return token.SignedString(rec.SigningKey())
}

// VerifyToken checks raw against the key set: first by the token's kid claim,
// then against every valid key (active first, backups after) so tokens signed
// just before a rotation keep verifying. Exhausting all keys yields
// keys.ErrInvalidSignature.
func VerifyToken(ks *keys.Store, raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods(validSigningMethods))

	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, keys.ErrInvalidSignature
		}
		rec := ks.KeyByID(kid)
		if rec == nil || !rec.Valid() {
			return nil, keys.ErrInvalidSignature
		}
		return rec.VerificationKey(), nil
	})
	if err == nil && token.Valid {
		return claims, nil
	}

	// Structural problems are final; only signature/key-resolution failures
	// are worth retrying against the rest of the key set.
	if err != nil &&
		(errors.Is(err, jwt.ErrTokenMalformed) ||
			errors.Is(err, jwt.ErrTokenExpired) ||
			errors.Is(err, jwt.ErrTokenNotValidYet)) {
		return nil, err
	}

	for _, rec := range ks.AllValidKeys() {
		key := rec.VerificationKey()
		fallback := &Claims{}
		t, ferr := parser.ParseWithClaims(raw, fallback, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if ferr == nil && t.Valid {
			return fallback, nil
		}
	}
	return nil, keys.ErrInvalidSignature
}

// IsAuthenticated validates a Bearer token against the key store and
// populates c.Locals("userID","role").
func IsAuthenticated(ks *keys.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get(authHeader)
		if h == "" || !strings.HasPrefix(strings.ToLower(h), strings.ToLower(bearerPrefix)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "missing/invalid Authorization header"})
		}
		raw := strings.TrimSpace(h[len(bearerPrefix):])
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid bearer token"})
		}

		claims, err := VerifyToken(ks, raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid or expired token"})
		}
		if strings.TrimSpace(claims.Subject) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "token missing subject"})
		}

		c.Locals("userID", claims.Subject)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

// RequireAdmin gates elevated-privilege routes (key rotation, revocation).
// Run AFTER IsAuthenticated.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		if role != models.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "admin privileges required"})
		}
		return c.Next()
	}
}
