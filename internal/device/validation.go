package device

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSlugLength = 50
	slugPattern   = `^[a-z0-9]+(?:-[a-z0-9]+)*$`

	// Size limits for the state map.
	maxStateKeys      = 20
	maxStringValueLen = 1024
)

var slugRegex = regexp.MustCompile(slugPattern)

var addressSeparators = strings.NewReplacer(".", "", ":", "", " ", "", "-", "")

// ValidateDevice checks a device before it is written.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	// Empty slug will be generated
	if d.Slug != "" {
		if err := ValidateSlug(d.Slug); err != nil {
			return err
		}
	}

	if strings.TrimSpace(d.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidDevice)
	}

	if _, err := NormalizeAddress(d.Address); err != nil {
		return err
	}

	if strings.TrimSpace(d.GatewayID) == "" {
		return fmt.Errorf("%w: gateway_id is required", ErrInvalidDevice)
	}

	return ValidateState(d.State)
}

// ValidateState checks the size of a state map.
func ValidateState(s State) error {
	if len(s) > maxStateKeys {
		return fmt.Errorf("%w: state exceeds max keys (%d)", ErrInvalidState, maxStateKeys)
	}
	for k, v := range s {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: state key too long", ErrInvalidState)
		}
		if str, ok := v.(string); ok && len(str) > maxStringValueLen {
			return fmt.Errorf("%w: state value %q too long", ErrInvalidState, k)
		}
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// NormalizeAddress returns the canonical "1A.2B.3C" form of an Insteon
// address. Dots, colons, dashes and spaces are accepted as separators.
func NormalizeAddress(address string) (string, error) {
	cleaned := addressSeparators.Replace(strings.TrimSpace(address))
	if len(cleaned) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	var b [3]byte
	if _, err := hex.Decode(b[:], []byte(cleaned)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return fmt.Sprintf("%02X.%02X.%02X", b[0], b[1], b[2]), nil
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)

	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
