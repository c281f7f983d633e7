package server

import (
	"html"
	"path"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxDisplayNameRunes = 32
	maxFilenameRunes    = 100
)

var namePolicy = bluemonday.StrictPolicy()

// SanitizeDisplayName strips markup and control characters from a requested
// display name and limits its length. An empty result yields fallback.
func SanitizeDisplayName(name, fallback string) string {
	cleaned := html.UnescapeString(namePolicy.Sanitize(name))
	cleaned = stripControl(cleaned)
	cleaned = truncateRunes(strings.TrimSpace(cleaned), maxDisplayNameRunes)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// sanitizeFilename reduces a client supplied file name to a safe base name:
// path components, control characters and shell or filesystem metacharacters
// are removed and runs of dots collapse to one. An empty result yields "file".
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	prev := rune(0)
	for _, r := range name {
		switch {
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			continue
		case r == '.' && prev == '.':
			continue
		case strings.ContainsRune(`<>:"/\|?*%$&;'`+"`", r):
			b.WriteRune('_')
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
		prev = r
	}

	cleaned := strings.TrimLeft(b.String(), ".")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "file"
	}

	if runes := []rune(cleaned); len(runes) > maxFilenameRunes {
		ext := path.Ext(cleaned)
		if len([]rune(ext)) >= maxFilenameRunes {
			ext = ""
		}
		stem := []rune(strings.TrimSuffix(cleaned, ext))
		cleaned = string(stem[:maxFilenameRunes-len([]rune(ext))]) + ext
	}
	return cleaned
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
