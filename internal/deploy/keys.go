package deploy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// apiKeyPrefix marks keys issued by this service so support can recognize
// them in logs and tickets.
const apiKeyPrefix = "aib_"

// NewAPIKey generates a deployment API key: the prefix plus 32 random bytes
// hex-encoded.
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// NewRequestID generates a per-request identifier echoed back to callers:
// req_<unix millis>_<9 random base36 chars>.
func NewRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), randBase36(9))
}

func randBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a time-derived digit rather than panic.
			out[i] = alphabet[time.Now().UnixNano()%36]
			continue
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}
