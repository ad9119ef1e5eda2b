package shared

import (
	"strings"

	"github.com/google/uuid"
)

const (
	SessionIDPrefix = "session_"
	ImageIDPrefix   = "img_"

	sessionIDLen = 9
	imageIDLen   = 6
)

// NewID returns prefix followed by 32 lowercase hex characters.
func NewID(prefix string) string {
	return prefix + hexUUID()
}

// NewSessionID matches the short ids the voice server routes on
// (session_ plus 9 hex characters).
func NewSessionID() string {
	return SessionIDPrefix + hexUUID()[:sessionIDLen]
}

func NewImageID() string {
	return ImageIDPrefix + hexUUID()[:imageIDLen]
}

func hexUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
