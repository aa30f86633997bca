package constants

import "strings"

// LocalTextExtensions are the extensions the local extractor can read
// without any external provider.
var LocalTextExtensions = map[string]struct{}{
	"txt":  {},
	"md":   {},
	"csv":  {},
	"json": {},
	"docx": {},
	"docm": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsLocallyParseable reports whether the local extractor has any chance with
// this filename/content-type combination.
func IsLocallyParseable(filename, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") || contentType == "application/json" {
		return true
	}
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		_, ok := LocalTextExtensions[NormalizeExt(filename[idx:])]
		return ok
	}
	return false
}
