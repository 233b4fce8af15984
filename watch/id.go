package watch

import (
	"strings"

	"github.com/google/uuid"
)

// generateIDWithPrefix returns ids like "ml_3f9c2a7d1e".
func generateIDWithPrefix(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:10]
}
