package server

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketManager issues and verifies short-lived signed pairing tickets.
// The QR pairing URL carries a ticket instead of the static token, so the
// long-lived secret never appears on screen or in a scanned photo.
type TicketManager struct {
	secret []byte
}

type ticketClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

const ticketPurpose = "pair"

// NewTicketManager builds a manager signing with secret.
func NewTicketManager(secret string) *TicketManager {
	return &TicketManager{secret: []byte(secret)}
}

// Issue signs a pairing ticket valid for ttl. A non-positive ttl defaults
// to five minutes, long enough to scan and connect.
func (m *TicketManager) Issue(ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.New("secret required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := ticketClaims{
		Purpose: ticketPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks a ticket's signature, expiry and purpose.
func (m *TicketManager) Verify(ticket string) error {
	if len(m.secret) == 0 {
		return errors.New("secret required")
	}
	parsed, err := jwt.ParseWithClaims(ticket, &ticketClaims{}, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(*ticketClaims)
	if !ok || !parsed.Valid {
		return errors.New("invalid ticket")
	}
	if claims.Purpose != ticketPurpose {
		return errors.New("wrong ticket purpose")
	}
	return nil
}
