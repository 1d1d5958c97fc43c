package insteon

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 3-byte Insteon device address.
type Address [3]byte

// ParseAddress accepts "1A.2B.3C", "1a:2b:3c", "1A 2B 3C" or "1A2B3C".
func ParseAddress(s string) (Address, error) {
	cleaned := strings.NewReplacer(".", "", ":", "", " ", "", "-", "").Replace(strings.TrimSpace(s))

	var a Address
	if len(cleaned) != 6 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if _, err := hex.Decode(a[:], []byte(cleaned)); err != nil {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// String returns the canonical uppercase dotted form.
func (a Address) String() string {
	return fmt.Sprintf("%02X.%02X.%02X", a[0], a[1], a[2])
}

// NormalizeAddress returns the canonical form of s.
func NormalizeAddress(s string) (string, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}
