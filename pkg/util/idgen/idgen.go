package idgen

import (
	"strings"

	"github.com/google/uuid"
)

const (
	JobIDPrefix     = "j-"
	ReceiptIDPrefix = "r-"

	// ShortIDLength is the length of a shortened uuid, long enough to be
	// unique in logs while staying readable.
	ShortIDLength = 8
)

// NewJobID returns a new unique job identifier.
func NewJobID() string {
	return JobIDPrefix + uuid.NewString()
}

// ShortID shortens an identifier for display. It is not guaranteed unique.
func ShortID(id string) string {
	noPrefix := strings.TrimPrefix(strings.TrimPrefix(id, JobIDPrefix), ReceiptIDPrefix)
	if len(noPrefix) <= ShortIDLength {
		return noPrefix
	}
	return noPrefix[:ShortIDLength]
}
