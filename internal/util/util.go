package util

import (
	"path/filepath"
	"strings"
	"time"
)

// ISOUTC formats t as an ISO-8601 timestamp in UTC.
func ISOUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ApplyNameModifiers inserts prefix and suffix around the base name of a
// file, keeping the extension in place: ("a.txt", "x-", "-y") -> "x-a-y.txt".
func ApplyNameModifiers(name, prefix, suffix string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	return prefix + base + suffix + ext
}
