package approval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Detector flags risky shell commands and sensitive file paths.
type Detector struct {
	mu        sync.RWMutex
	commands  []string
	paths     []string
	fileTypes []string
}

// riskyFile is the on-disk shape of a risky-pattern file.
type riskyFile struct {
	Commands  []string `yaml:"commands"`
	Paths     []string `yaml:"paths"`
	FileTypes []string `yaml:"file_types"`
}

// NewDetector creates a detector with the default patterns.
func NewDetector() *Detector {
	return &Detector{
		commands:  append([]string{}, DefaultCommandPatterns...),
		paths:     append([]string{}, DefaultPathPatterns...),
		fileTypes: append([]string{}, DefaultFileTypes...),
	}
}

// LoadFile appends the patterns in a YAML file to the detector.
func (d *Detector) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read risky patterns: %w", err)
	}
	var f riskyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse risky patterns %s: %w", path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range f.Commands {
		d.commands = append(d.commands, strings.ToLower(c))
	}
	d.paths = append(d.paths, f.Paths...)
	d.fileTypes = append(d.fileTypes, f.FileTypes...)
	return nil
}

// RiskyCommand reports whether command matches a risky pattern and which.
func (d *Detector) RiskyCommand(command string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for _, p := range d.commands {
		if strings.Contains(normalized, p) {
			return true, p
		}
	}
	return false, ""
}

// SensitivePath reports whether writing path needs confirmation.
func (d *Detector) SensitivePath(path string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := filepath.ToSlash(filepath.Clean(path))
	for _, p := range d.paths {
		if matchGlobPattern(normalized, p) {
			return true, p
		}
	}
	base := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))
	for _, ft := range d.fileTypes {
		ft = strings.ToLower(ft)
		// ".env" has no extension of its own, so compare the base name too.
		if ext == ft || base == ft {
			return true, ft
		}
	}
	return false, ""
}
