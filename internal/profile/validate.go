package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/livesync/internal/model"
)

const maxNameLen = 64

// Profile names are directory names under profiles/.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName returns a *model.ValidationError when name is not usable as a
// profile.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &model.ValidationError{Field: "profile", Reason: "name is empty"}
	case len(name) > maxNameLen:
		return &model.ValidationError{Field: "profile", Reason: fmt.Sprintf("name longer than %d characters", maxNameLen)}
	case !namePattern.MatchString(name):
		return &model.ValidationError{Field: "profile", Reason: fmt.Sprintf("%q must be lowercase letters, digits, '-' or '_' and start with a letter or digit", name)}
	}
	return nil
}
