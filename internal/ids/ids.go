// Package ids provides identifier generation and validation for Fides records.
package ids

import (
	"crypto/rand"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// ItemIDPrefix is the display prefix carried by every item identifier.
const ItemIDPrefix = "Fides-"

// itemTokenLength is the number of random characters after the prefix.
const itemTokenLength = 6

// tokenAlphabet excludes lowercase so tokens survive case-folding transcription.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var itemIDRegex = regexp.MustCompile(`^Fides-[A-Z0-9]{6}$`)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// NewItemID generates a short human-checkable item identifier,
// e.g. "Fides-AB12CD". The token is assigned before first persistence.
func NewItemID() string {
	buf := make([]byte, itemTokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; nothing
		// sensible to fall back to.
		panic(fmt.Sprintf("ids: rand.Read failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return ItemIDPrefix + string(buf)
}

// ValidItemID checks if a string is a well-formed item identifier.
func ValidItemID(s string) bool {
	return itemIDRegex.MatchString(s)
}

// NewAccountID generates a new UUID v4 account identifier.
func NewAccountID() string {
	return uuid.New().String()
}

// ValidAccountID checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func ValidAccountID(s string) bool {
	return uuidV4Regex.MatchString(s)
}
