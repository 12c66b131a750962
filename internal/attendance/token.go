package attendance

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// tokenAlphabet leaves out 0/O and 1/I so tokens can be typed from a screen.
const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TokenLength is the number of characters in a window token.
const TokenLength = 10

// NewToken generates a random upper-case window token.
func NewToken() (string, error) {
	var sb strings.Builder
	sb.Grow(TokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < TokenLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		sb.WriteByte(tokenAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeToken trims and upper-cases a submitted token.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
