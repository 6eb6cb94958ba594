package api

import "github.com/google/uuid"

// parseUUID wraps uuid.Parse so handler files share one import site.
func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
