// Package jobs holds job ID and route helpers shared by the HTTP server and
// the Lambda entry points.
package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// IDPrefix marks verification job IDs.
const IDPrefix = "pv-"

// GenerateID returns a new random job ID such as "pv-1b4e28ba-2fa1-11d2-883f-0016d3cca427".
func GenerateID() string {
	return IDPrefix + uuid.NewString()
}

// NormalizeID accepts an ID with or without the prefix.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, IDPrefix) {
		return id
	}
	return IDPrefix + id
}
