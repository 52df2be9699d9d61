package model

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"boltzflow/internal/apperrors"
)

// maxFolderNameLen keeps folder names within common filesystem limits.
const maxFolderNameLen = 200

// SanitizeFolderName converts a user-provided display name into a
// filesystem-safe folder name.
func SanitizeFolderName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}

	s := strings.Trim(b.String(), "-")
	if len(s) > maxFolderNameLen {
		// Back up to a rune boundary so a multibyte letter is never split.
		cut := maxFolderNameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimRight(s[:cut], "-")
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

// UniqueFolderName appends a numeric suffix until base does not collide
// with any existing sibling folder name.
func UniqueFolderName(base string, existing []string) string {
	name := base
	for suffix := 2; contains(existing, name); suffix++ {
		name = fmt.Sprintf("%s-%d", base, suffix)
	}
	return name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateFolderName rejects names that could escape the workspace root.
// Folder names come from state.json, which may have been tampered with.
func ValidateFolderName(name string) error {
	if name == "" || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return apperrors.Validation("folder_name", fmt.Sprintf("invalid folder name: %q", name))
	}
	return nil
}
