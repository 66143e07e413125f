package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MoveToDir moves path into destDir, prefixing the name with a timestamp so
// that re-dropped files with the same name never overwrite each other.
func MoveToDir(path, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}

	newFilename := time.Now().Format("20060102150405") + "-" + filepath.Base(path)
	dest := filepath.Join(destDir, newFilename)

	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(destDir, fmt.Sprintf("%d-%s", i, newFilename))
	}

	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
