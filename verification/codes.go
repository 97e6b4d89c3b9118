package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Generate returns a one-time code of exactly length decimal digits,
// each drawn uniformly and independently. Leading zeros are preserved.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("draw code digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
