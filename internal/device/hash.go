package device

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/BradenHooton/aegis/internal/models"
)

// HashComponents derives a fingerprint from raw components for clients that do not send one.
// encoding/json sorts map keys, so equal component sets always hash the same.
func HashComponents(components models.Metadata) (string, error) {
	canonical, err := json.Marshal(map[string]interface{}(components))
	if err != nil {
		return "", fmt.Errorf("encode components: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
