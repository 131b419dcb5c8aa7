package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the clipboard descriptor written by the sync client.
type Manifest struct {
	Type      string `json:"Type"`
	Clipboard string `json:"Clipboard"` // text for Text items, identity hash otherwise
	File      string `json:"File"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseManifest decodes a manifest. Unknown fields are ignored.
func ParseManifest(data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// ReadManifest reads and decodes the manifest at path. A missing file is
// reported with an error matching os.ErrNotExist.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}
