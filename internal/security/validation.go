package security

import (
	"fmt"
	"unicode/utf8"
)

// Validator bounds the opaque identifiers (peer_id, server_id,
// signing_pubkey, user_id, chat_id) carried on signaling frames. These
// strings are never interpreted by the coordination core, but an
// unbounded or control-character-laden identifier is still worth
// rejecting before it is used as a map key or logged.
type Validator struct {
	// MaxIdentifierLength bounds every opaque identifier field.
	MaxIdentifierLength int
}

// NewValidator creates a validator with secure defaults.
// Complexity: O(1)
func NewValidator() *Validator {
	return &Validator{
		MaxIdentifierLength: 256,
	}
}

// ValidateIdentifier checks that an opaque identifier is non-empty, valid
// UTF-8, free of control characters, and within MaxIdentifierLength.
// Complexity: O(n) where n is the length of id.
func (v *Validator) ValidateIdentifier(id string, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	if len(id) > v.MaxIdentifierLength {
		return fmt.Errorf("%s is too long (max %d bytes)", fieldName, v.MaxIdentifierLength)
	}

	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", fieldName)
	}

	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%s contains control characters", fieldName)
		}
	}

	return nil
}
