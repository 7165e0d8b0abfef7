package library

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	upcBaseLength = 11 // UPC-A without check digit
	eanBaseLength = 12 // EAN-13 without check digit

	defaultUPCMaxAttempts = 10
)

// CheckDigit computes the check digit of a numeric base. Digits are weighted
// 3 and 1 alternately starting with 3 on the rightmost digit, so an 11-digit
// UPC-A base weighs even (0-based) positions by 3.
func CheckDigit(base string) (int, error) {
	if base == "" {
		return 0, fmt.Errorf("empty upc base")
	}
	sum := 0
	weight := 3
	for i := len(base) - 1; i >= 0; i-- {
		c := base[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("upc base %q contains non-digit %q", base, c)
		}
		sum += int(c-'0') * weight
		weight = 4 - weight
	}
	return (10 - sum%10) % 10, nil
}

// ValidateUPC reports whether code is a 12-digit UPC-A or 13-digit EAN-13
// code with a correct check digit.
func ValidateUPC(code string) bool {
	if len(code) != upcBaseLength+1 && len(code) != eanBaseLength+1 {
		return false
	}
	base, last := code[:len(code)-1], code[len(code)-1]
	if last < '0' || last > '9' {
		return false
	}
	digit, err := CheckDigit(base)
	if err != nil {
		return false
	}
	return int(last-'0') == digit
}

// UPCGenerator produces random check-digit-valid codes that the caller's
// store does not already hold.
type UPCGenerator struct {
	// MaxAttempts bounds the tries in each code space.
	MaxAttempts int
	// IntN returns a uniform value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// Generate returns an unused code. It tries MaxAttempts 12-digit codes, then
// MaxAttempts 13-digit codes, and reports CodeConflict when both spaces keep
// colliding.
func (g UPCGenerator) Generate(taken func(code string) (bool, error)) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = defaultUPCMaxAttempts
	}
	intN := g.IntN
	if intN == nil {
		intN = rand.IntN
	}

	for _, baseLen := range []int{upcBaseLength, eanBaseLength} {
		for i := 0; i < attempts; i++ {
			code := randomCode(baseLen, intN)
			used, err := taken(code)
			if err != nil {
				return "", err
			}
			if !used {
				return code, nil
			}
		}
	}
	return "", Newf(CodeConflict, "no unused product code after %d attempts per code space", attempts)
}

func randomCode(baseLen int, intN func(int) int) string {
	var sb strings.Builder
	sb.Grow(baseLen + 1)
	for i := 0; i < baseLen; i++ {
		sb.WriteByte(byte('0' + intN(10)))
	}
	// The base is all digits, so CheckDigit cannot fail.
	digit, _ := CheckDigit(sb.String())
	sb.WriteByte(byte('0' + digit))
	return sb.String()
}
