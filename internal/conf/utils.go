// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/faunavision/faunavision-go/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml:
// the working directory, then the per-user and system locations for the
// current operating system.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == "windows" {
		return []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "faunavision"),
		}, nil
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "faunavision"),
		"/etc/faunavision",
	}, nil
}

// UserConfigPath is where `faunavision config init` writes by default.
func UserConfigPath() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(paths[1], "config.yaml"), nil
}
