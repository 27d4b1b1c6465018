package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// APIKeyPrefix marks generated tenant keys so they are recognizable in logs
// and support tickets without revealing the key itself.
const APIKeyPrefix = "sg_live_"

// GenerateAPIKey returns a new random tenant API key. The key is shown to the
// operator exactly once; only its hash is persisted.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
