package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExecutableDir returns the directory holding the running binary, with
// symlinks resolved. All relative paths resolve against it so the
// application behaves the same regardless of working directory.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// resolvePaths anchors relative path configuration at the executable
// directory and creates the directories the engine writes to.
func (c *Config) resolvePaths() error {
	if c.Paths.ExecutableDir == "" {
		exeDir, err := ExecutableDir()
		if err != nil {
			return err
		}
		c.Paths.ExecutableDir = exeDir
	}

	c.Paths.LicenseDir = joinIfRelative(c.Paths.ExecutableDir, c.Paths.LicenseDir)
	c.Paths.LogsDir = joinIfRelative(c.Paths.ExecutableDir, c.Paths.LogsDir)
	c.Logging.FilePath = joinIfRelative(c.Paths.ExecutableDir, c.Logging.FilePath)
	if c.License.PublicKeyPath != "" {
		c.License.PublicKeyPath = joinIfRelative(c.Paths.ExecutableDir, c.License.PublicKeyPath)
	}

	for _, dir := range []string{c.Paths.LicenseDir, c.Paths.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func joinIfRelative(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
