package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under the base dir, so the
// allowed alphabet is deliberately narrow.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot serve as a session directory:
// empty, longer than 64 characters, or containing anything outside
// lowercase letters, digits, hyphen and underscore.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: need 1-64 characters from [a-z0-9_-]", name)
	}
	return nil
}
