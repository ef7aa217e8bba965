package utils

import "github.com/google/uuid"

// GenerateID returns a new policy identifier. Ids are generated before the
// row is inserted so dispatch can reference them without a read-back.
func GenerateID() string {
	return uuid.New().String()
}
