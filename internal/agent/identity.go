package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateKioskID returns the kiosk's stable identity, minting one on
// first boot. The id file is the only state the agent persists.
func LoadOrCreateKioskID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		kioskID := strings.TrimSpace(string(raw))
		if kioskID == "" {
			return "", fmt.Errorf("kiosk id file %s is empty", path)
		}
		return kioskID, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading kiosk id file %s: %w", path, err)
	}

	kioskID := uuid.NewString()
	if err = os.WriteFile(path, []byte(kioskID+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing kiosk id file %s: %w", path, err)
	}

	return kioskID, nil
}
