// Package pluginapi defines the contract between the host runtime and its plugins.
package pluginapi

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ID is the 128-bit identity assigned to a plugin when its bundle is authored.
type ID = uuid.UUID

// NoOwner marks contributions that belong to the host rather than a plugin.
var NoOwner = uuid.Nil

// ErrInvalidID is returned when an identity string is not a well-formed identity.
var ErrInvalidID = errors.New("invalid plugin identity")

// ParseID parses an identity in upper or lower case hex, either as 32 bare digits or
// in the hyphenated 8-4-4-4-12 form. The zero identity is reserved for NoOwner and is
// rejected.
func ParseID(s string) (ID, error) {
	raw := strings.TrimSpace(s)
	switch len(raw) {
	case 32:
		if strings.Contains(raw, "-") {
			return NoOwner, ErrInvalidID
		}
	case 36:
		for i := range len(raw) {
			if (raw[i] == '-') != (i == 8 || i == 13 || i == 18 || i == 23) {
				return NoOwner, ErrInvalidID
			}
		}
		raw = strings.ReplaceAll(raw, "-", "")
	default:
		return NoOwner, ErrInvalidID
	}

	id, err := uuid.Parse(strings.ToLower(raw))
	if err != nil {
		return NoOwner, ErrInvalidID
	}
	if id == NoOwner {
		return NoOwner, ErrInvalidID
	}

	return id, nil
}

// MustParseID is like ParseID but panics on error. Intended for compiled-in plugins.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}

	return id
}
