package datasets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageExtensions are tried, in order, when an id has no extension.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// resolveImage finds the image file for id under dir. Ids that already carry
// an extension are used as is.
func resolveImage(dir, id string, extensions []string) (string, bool) {
	base := filepath.Join(dir, id)
	if filepath.Ext(id) != "" {
		if fileExists(base) {
			return base, true
		}
		return base, false
	}
	for _, ext := range extensions {
		candidate := base + ext
		if fileExists(candidate) {
			return candidate, true
		}
		if upper := base + strings.ToUpper(ext); fileExists(upper) {
			return upper, true
		}
	}
	return base, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindMetadataCSV returns the first CSV file in dir.
func FindMetadataCSV(dir string) (string, error) {
	pattern := filepath.Join(dir, "*.csv")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.Errorf("no CSV files found in %s", dir)
	}
	return matches[0], nil
}
