package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// agentKeyPrefix is the prefix used for generated agent executor keys.
const agentKeyPrefix = "agk_"

// GenerateAgentKey creates a new random agent credential string.
func GenerateAgentKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate agent key: %w", err)
	}
	return agentKeyPrefix + hex.EncodeToString(secret), nil
}
