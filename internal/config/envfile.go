package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ReadEnvFile reads an env file into a key/value map. A missing file is not
// an error; it yields an empty map so callers can build on it.
func ReadEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	return env, nil
}

// WriteEnvFile persists the map atomically: the content is written to a
// temporary file and renamed over the target, so a crash mid-write never
// leaves a truncated file behind.
func WriteEnvFile(path string, env map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create env file directory: %w", err)
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal env file: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content+"\n"), 0o640); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace env file: %w", err)
	}

	return nil
}
