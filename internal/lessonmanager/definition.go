package lessonmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chandra-edu/chandra/internal/lesson"
)

// sidecarPath maps a lesson script path to its metadata file.
func sidecarPath(scriptPath string) string {
	return strings.TrimSuffix(scriptPath, scriptExt) + ".json"
}

// loadOrCreateDefinition reads the script's metadata sidecar, creating
// one with defaults when it is absent or unreadable. A corrupt sidecar
// is replaced rather than treated as fatal; the script itself stays
// authoritative for behavior.
func loadOrCreateDefinition(scriptPath, lessonID string) (*lesson.Definition, error) {
	path := sidecarPath(scriptPath)

	data, err := os.ReadFile(path)
	if err == nil {
		var def lesson.Definition
		if jsonErr := json.Unmarshal(data, &def); jsonErr == nil && def.ID != "" {
			return &def, nil
		}
	}

	def := lesson.Default(lessonID)
	if err := writeDefinition(path, def); err != nil {
		return nil, err
	}
	return def, nil
}

func writeDefinition(path string, def *lesson.Definition) error {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lesson definition: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing lesson definition %s: %w", filepath.Base(path), err)
	}
	return nil
}
