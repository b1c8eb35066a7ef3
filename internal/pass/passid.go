package pass

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Pass IDs are read over the phone and typed into the verify form, so
// the alphabet drops the characters people confuse (0/O, 1/I/L).
const passIDAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const passIDLength = 8

var passIDPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Largest multiple of the alphabet size below 256. Bytes at or above
// it are rejected so every alphabet character is equally likely.
const passIDRejectAbove = 256 - (256 % len(passIDAlphabet))

// NewPassID draws a fresh random identifier. Uniqueness is enforced by
// the store's primary key; callers retry on a collision.
func NewPassID() (string, error) {
	id := make([]byte, 0, passIDLength)
	buf := make([]byte, passIDLength)
	for len(id) < passIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("pass id entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= passIDRejectAbove {
				continue
			}
			id = append(id, passIDAlphabet[int(b)%len(passIDAlphabet)])
			if len(id) == passIDLength {
				break
			}
		}
	}
	return string(id), nil
}

// ValidPassID reports whether a candidate looks like a pass identifier.
func ValidPassID(id string) bool {
	return id != "" && passIDPattern.MatchString(id)
}
