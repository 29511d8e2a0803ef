package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placeholders understood in launch flags.
const (
	// PackagePathVar is the unpacked package directory.
	PackagePathVar = "%PACKAGE_PATH%"
	// PackageSubdirVar is the first directory inside it. Only one level is
	// resolved; there is no recursive globbing.
	PackageSubdirVar = "%PACKAGE_PATH/*%"
)

// ResolvePathVariables substitutes the package placeholders in flags and
// converts backslashes to forward slashes. packagePath is the directory the
// release was unpacked into.
func ResolvePathVariables(flags []string, packagePath string) ([]string, error) {
	var subdir string
	out := make([]string, 0, len(flags))
	for _, flag := range flags {
		if strings.Contains(flag, PackageSubdirVar) {
			if subdir == "" {
				var err error
				if subdir, err = firstSubdir(packagePath); err != nil {
					return nil, err
				}
			}
			flag = strings.ReplaceAll(flag, PackageSubdirVar, subdir)
		}
		flag = strings.ReplaceAll(flag, PackagePathVar, packagePath)
		out = append(out, strings.ReplaceAll(flag, `\`, "/"))
	}
	return out, nil
}

// firstSubdir returns the lexically first directory directly below dir.
func firstSubdir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", PackageSubdirVar, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("resolving %s: no directory in %s", PackageSubdirVar, dir)
}
