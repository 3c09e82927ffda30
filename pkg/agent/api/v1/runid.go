package api_v1

import (
	"fmt"
	"regexp"
)

// Run identifiers become a path segment of the release directory, so the
// accepted character set excludes separators and leading dots regardless of
// whether the request signature checks out.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return fmt.Errorf("run id must match %s", runIDPattern.String())
	}
	return nil
}
