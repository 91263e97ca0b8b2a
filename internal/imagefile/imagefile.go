// Package imagefile pairs a raw flash image file with a small sidecar that
// records its geometry, so tools don't need the right flags on every
// invocation.
package imagefile

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// SidecarSuffix is appended to the image path to form the sidecar path.
const SidecarSuffix = ".meta"

const currentVersion = 1

// Geometry describes the flash region an image file holds.
type Geometry struct {
	Version      int    `msgpack:"version"`
	PageSize     int    `msgpack:"page_size"`
	PageCount    int    `msgpack:"page_count"`
	BaseAddress  uint32 `msgpack:"base_address"`
	DensityBytes int    `msgpack:"density_bytes"`
	LogBytes     int    `msgpack:"log_bytes"`
}

// Save writes the sidecar next to the image file.
func Save(imagePath string, g Geometry) error {
	g.Version = currentVersion
	data, err := msgpack.Marshal(&g)
	if err != nil {
		return fmt.Errorf("failed to encode geometry: %w", err)
	}
	if err := os.WriteFile(imagePath+SidecarSuffix, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// Load reads the sidecar for an image file.
func Load(imagePath string) (Geometry, error) {
	data, err := os.ReadFile(imagePath + SidecarSuffix)
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var g Geometry
	if err := msgpack.Unmarshal(data, &g); err != nil {
		return Geometry{}, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	if g.Version != currentVersion {
		return Geometry{}, fmt.Errorf("sidecar version %d is not %d", g.Version, currentVersion)
	}
	return g, nil
}
