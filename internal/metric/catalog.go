package metric

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML shape: one file holds one or more definitions.
type catalogFile struct {
	Metrics []*Definition `yaml:"metrics"`
}

// LoadCatalog reads every *.yaml file under dir and registers its definitions.
// Files are read in lexical order so registration order (and therefore batch
// sweep order) is deterministic. Catalog changes require redeployment; nothing
// reloads at runtime.
func LoadCatalog(dir string, registry *Registry) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("metric catalog dir %q does not exist", dir)
	}
	if err != nil {
		return fmt.Errorf("metric catalog dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("metric catalog path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading metric catalog dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading catalog file %s: %w", path, err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parsing catalog file %s: %w", path, err)
		}
		if len(file.Metrics) == 0 {
			continue // comment-only or empty file
		}

		fingerprint := fmt.Sprintf("%x", sha256.Sum256(data))
		for _, def := range file.Metrics {
			def.Fingerprint = fingerprint
			if err := registry.Register(def); err != nil {
				return fmt.Errorf("catalog file %s: %w", path, err)
			}
		}
	}

	return nil
}
