package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateConnID returns a random id for a websocket connection.
func GenerateConnID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d%x", time.Now().UnixNano(), b)
	}
	return hex.EncodeToString(b)
}
