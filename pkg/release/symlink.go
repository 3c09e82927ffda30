package release

import (
	"fmt"
	"os"
)

// replaceSymlinkAtomic points linkPath at targetPath without a window
// where linkPath is missing: the new link is created under a temporary
// name and renamed over the old entry, which on POSIX filesystems is a
// single atomic directory-entry replace.
func replaceSymlinkAtomic(linkPath, targetPath string) error {
	tmpLink := linkPath + ".tmp"

	// left over from a previous failed attempt
	_ = os.Remove(tmpLink)

	err := os.Symlink(targetPath, tmpLink)
	if err != nil {
		return fmt.Errorf("create temporary symlink: %w", err)
	}

	err = os.Rename(tmpLink, linkPath)
	if err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("replace symlink: %w", err)
	}

	return nil
}

// readLinkIfExists returns the target of a symlink, or "" when no link
// exists at the path.
func readLinkIfExists(path string) (string, error) {
	target, err := os.Readlink(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return target, nil
}
