// Package security holds helpers for handling untrusted names from the
// scanner and the operator.
package security

import "strings"

// maxFilenameLen bounds sanitized names in bytes.
const maxFilenameLen = 128

// SanitizeFilename makes a safe file name from an arbitrary project or task
// name. Runs of characters other than ASCII letters, digits, dot, underscore
// and dash become a single underscore, and leading or trailing dots and
// underscores are trimmed. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// DownloadName returns the attachment name for a download of project name
// with extension ext (including the dot).
func DownloadName(name, ext string) string {
	return SanitizeFilename(name) + ext
}
