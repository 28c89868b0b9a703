package catalogue

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// RunIDLength is the length of generated run ids.
const RunIDLength = 8

// GenerateRunID returns a fresh 8 character run id: the URL-safe base64
// prefix of a random UUID, with underscores replaced by a letter.
func GenerateRunID() string {
	u := uuid.New()
	encoded := base64.URLEncoding.EncodeToString(u[:])
	return strings.ReplaceAll(encoded[:RunIDLength], "_", "a")
}

// ValidRunID reports whether s has the shape of a generated run id.
func ValidRunID(s string) bool {
	if len(s) != RunIDLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
