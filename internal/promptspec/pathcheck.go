package promptspec

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ValidateSpecPath checks that path exists and is a regular file.
// Missing files and directories are reported as ErrSpecFileNotFound.
func ValidateSpecPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrSpecFileNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSpecFileNotFound, path)
		}
		return fmt.Errorf("cannot stat spec file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSpecFileNotFound, path)
	}
	return nil
}
