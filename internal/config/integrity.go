package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to the config file.
const ChecksumFile = ".checksums"

// ChecksumManifest maps file names (relative to the config directory) to
// BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock hashes configPath and writes the manifest beside it. It returns the
// manifest path.
func Lock(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", configPath, err)
	}
	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", absPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("marshal checksums: %w", err)
	}

	out := filepath.Join(filepath.Dir(absPath), ChecksumFile)
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// LoadChecksums reads the manifest from dir. A missing manifest returns
// an error wrapping fs.ErrNotExist.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	path := filepath.Join(dir, ChecksumFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m ChecksumManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("%s: unsupported version %d", path, m.Version)
	}
	return &m, nil
}

// VerifyChecksums checks configPath against the manifest in its directory.
// Without a manifest there is nothing to verify. A manifest that does not
// list the file, or lists a different hash, is an error.
func VerifyChecksums(configPath string) error {
	dir, name := filepath.Dir(configPath), filepath.Base(configPath)
	m, err := LoadChecksums(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	want, ok := m.Hashes[name]
	if !ok {
		return fmt.Errorf("%s not listed in %s; run 'edge-bot config lock'", name, ChecksumFile)
	}
	got, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s; run 'edge-bot config lock' after editing", name, want, got)
	}
	return nil
}
