// Package registryfile decodes the YAML or JSON files that declare sources and publishers.
package registryfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads path and decodes it into out. The extension picks the format;
// files without one are read as YAML, which also accepts JSON.
// kind names the file in errors, e.g. "sources".
func Load(path, kind string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%s file path is empty", kind)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s file: %w", kind, err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read %s file: %w", kind, err)
	}
	return Decode(raw, filepath.Ext(path), kind, out)
}

// Decode unmarshals raw according to ext.
func Decode(raw []byte, ext, kind string, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return errors.New(kind + " file is empty")
	}

	var err error
	switch ext = strings.ToLower(strings.TrimSpace(ext)); ext {
	case ".json":
		err = json.Unmarshal(raw, out)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(raw, out)
	default:
		return fmt.Errorf("%s file format %q not recognized (expected YAML or JSON)", kind, ext)
	}
	if err != nil {
		return fmt.Errorf("decode %s file: %w", kind, err)
	}
	return nil
}
