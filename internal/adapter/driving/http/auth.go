package http

import (
	"fmt"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the connect-time identity token minted by the platform's
// account system. Hosts carry their per-minute rate in the token so the
// broker never reads profile storage.
type Claims struct {
	UserID             string `json:"user_id"`
	Role               string `json:"role"`
	RatePerMinuteCents int64  `json:"rate_per_minute_cents,omitempty"`
	jwt.RegisteredClaims
}

// authenticate validates the token and extracts the party identity and, for
// hosts, the billing rate.
func (h *Handler) authenticate(tokenString string) (domain.Identity, int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return domain.Identity{}, 0, fmt.Errorf("invalid token: %w", err)
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Identity{}, 0, err
	}
	userID, err := domain.ParseUserID(claims.UserID)
	if err != nil {
		return domain.Identity{}, 0, fmt.Errorf("invalid user id claim: %w", err)
	}

	rate := claims.RatePerMinuteCents
	if role == domain.RoleHost && rate <= 0 {
		rate = h.defaultRate
	}
	return domain.Identity{Role: role, UserID: userID}, rate, nil
}
