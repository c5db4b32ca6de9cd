// Package fileid derives bottle ids, display names and image references from image file paths.
package fileid

import (
	"path/filepath"
	"strings"
)

// ImageURLPrefix is the URL path under which catalog images are served.
const ImageURLPrefix = "images/"

var nameReplacer = strings.NewReplacer("_", " ", "-", " ")

// BottleID returns the file name without directory and extension.
// "/data/raw/Glen_Moray-12.jpg" -> "Glen_Moray-12".
func BottleID(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BottleName returns the display name for an image file: the id with underscores and
// hyphens replaced by spaces.
func BottleName(path string) string {
	return nameReplacer.Replace(BottleID(path))
}

// ImageURL returns the catalog image reference for an image file.
func ImageURL(path string) string {
	return ImageURLPrefix + filepath.Base(filepath.Clean(path))
}

// IsImage reports whether path has one of exts (".jpg" style, case-insensitive).
func IsImage(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
