//go:build !unix

package validate

import (
	"errors"
	"os"
)

// access approximates access(2) from the permission bits for "other".
func access(path string, mode uint32) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if uint32(fi.Mode().Perm())&mode != mode {
		return errors.New("permission denied")
	}
	return nil
}
