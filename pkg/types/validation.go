package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var (
	userIDRegex      = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	sessionCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionCode checks a human-shareable session code such as "XYZ-987".
func IsValidSessionCode(code string) bool {
	if len(code) < 3 || len(code) > 32 {
		return false
	}
	return sessionCodeRegex.MatchString(code)
}

// NormalizeSessionCode folds codes to upper case so "xyz-987" and "XYZ-987"
// address the same room.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseRole converts a claim value into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", ErrInvalidRole
	}
}

// Validate ensures a verified identity is usable for session membership.
func (i Identity) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if n := utf8.RuneCountInString(i.Name); n < 1 || n > 100 {
		return ErrInvalidDisplayName
	}
	if i.Role != RoleTeacher && i.Role != RoleStudent {
		return ErrInvalidRole
	}
	return nil
}

// Validate checks a file operation descriptor is well formed.
func (op FileOp) Validate() error {
	if op.FileID == "" {
		return ErrInvalidFileOp
	}
	switch op.Kind {
	case FileCreated:
		if op.Path == "" {
			return ErrInvalidFileOp
		}
	case FileDeleted:
	case FileRenamed:
		if op.Path == "" || op.OldPath == "" {
			return ErrInvalidFileOp
		}
	default:
		return ErrInvalidFileOp
	}
	return nil
}

// IsValidMediaKind reports whether kind is a toggleable track.
func IsValidMediaKind(kind MediaKind) bool {
	return kind == MediaAudio || kind == MediaVideo
}
