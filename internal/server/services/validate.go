package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
)

// ValidateFilename accepts a single safe path element.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return common.NewValidationError(common.ErrInvalidFilename, "filename is empty")
	case len(name) > common.MaxFilenameLength:
		return common.NewValidationError(common.ErrInvalidFilename, "filename is %d bytes, limit is %d", len(name), common.MaxFilenameLength)
	case !utf8.ValidString(name):
		return common.NewValidationError(common.ErrInvalidFilename, "filename is not valid UTF-8")
	case strings.Trim(name, ".") == "":
		return common.NewValidationError(common.ErrInvalidFilename, "filename %q is not a file name", name)
	case strings.Contains(name, ".."):
		return common.NewValidationError(common.ErrInvalidFilename, "filename must not contain \"..\"")
	case strings.ContainsAny(name, `/\`):
		return common.NewValidationError(common.ErrInvalidFilename, "filename must not contain path separators")
	case strings.TrimSpace(name) != name:
		return common.NewValidationError(common.ErrInvalidFilename, "filename must not start or end with whitespace")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return common.NewValidationError(common.ErrInvalidFilename, "filename contains control character %U", r)
		}
		if strings.ContainsRune(`<>:"|?*`, r) {
			return common.NewValidationError(common.ErrInvalidFilename, "filename contains reserved character %q", r)
		}
	}
	return nil
}

// validateID guards identifiers that end up in filesystem paths.
func validateID(field, id string) error {
	if id == "" {
		return common.NewValidationError(common.ErrValidation, "%s is required", field)
	}
	if len(id) > 128 || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return common.NewValidationError(common.ErrValidation, "%s %q is not a valid identifier", field, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return common.NewValidationError(common.ErrValidation, "%s %q is not a valid identifier", field, id)
		}
	}
	return nil
}
