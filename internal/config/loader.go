package config

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const (
	// DefaultConfigFile is the default manifest filename
	DefaultConfigFile = "tunneldash.yaml"

	// AlternateConfigFile is an alternate manifest filename
	AlternateConfigFile = "tunneldash.yml"
)

// Loader handles loading and parsing tunnel manifests
type Loader struct {
	workDir string
}

// NewLoader creates a new manifest loader
func NewLoader(workDir string) *Loader {
	if workDir == "" {
		workDir = "."
	}
	return &Loader{workDir: workDir}
}

// Load loads the manifest from the working directory
func (l *Loader) Load() (*Manifest, error) {
	path, err := l.FindConfigFile()
	if err != nil {
		return nil, err
	}
	return l.LoadFile(path)
}

// LoadFile loads a manifest from a specific path
func (l *Loader) LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates manifest bytes
func Parse(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.UnmarshalStrict(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w\n  → Check YAML syntax at https://yaml.org/spec/", err)
	}

	manifest.WithDefaults()

	if err := Validate(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// FindConfigFile finds the manifest in the working directory
func (l *Loader) FindConfigFile() (string, error) {
	for _, name := range []string{DefaultConfigFile, AlternateConfigFile} {
		path := filepath.Join(l.workDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s or %s found in %s\n  → Run 'tunneldash add' to create one", DefaultConfigFile, AlternateConfigFile, l.workDir)
}

// HasConfigFile checks if a manifest exists
func (l *Loader) HasConfigFile() bool {
	_, err := l.FindConfigFile()
	return err == nil
}

// Path returns where the manifest is, or where it would be created
func (l *Loader) Path() string {
	if path, err := l.FindConfigFile(); err == nil {
		return path
	}
	return filepath.Join(l.workDir, DefaultConfigFile)
}

// LoadOrDefault loads the manifest if it exists, or returns an empty one
func (l *Loader) LoadOrDefault() (*Manifest, error) {
	if l.HasConfigFile() {
		return l.Load()
	}
	abs, err := filepath.Abs(l.workDir)
	if err != nil {
		abs = l.workDir
	}
	return NewDefaultManifest(filepath.Base(abs)), nil
}

// Marshal renders a manifest as YAML
func Marshal(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}
