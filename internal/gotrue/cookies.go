package gotrue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// base64Prefix marks cookie values holding base64url-encoded JSON.
	base64Prefix = "base64-"

	verifierSuffix = "-code-verifier"
)

func encodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeValue parses a cookie value written by encodeValue. Plain JSON
// values are accepted as well.
func decodeValue(raw string, v any) error {
	data := []byte(raw)
	if rest, ok := strings.CutPrefix(raw, base64Prefix); ok {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(rest, "="))
		if err != nil {
			return fmt.Errorf("failed to decode cookie value: %w", err)
		}
		data = decoded
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse cookie value: %w", err)
	}
	return nil
}
