package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewConnectionID identifies a single WebSocket connection. A user with
// several tabs holds several connection IDs.
func NewConnectionID() string {
	return "conn_" + uuid.NewString()
}
