package validate

import (
	"io/fs"
	"os"
	"os/user"
)

// Access modes for Env.Access.
const (
	AccessRead    uint32 = 0x4
	AccessWrite   uint32 = 0x2
	AccessExecute uint32 = 0x1
)

// Env is the slice of the host the static pass consults.
type Env interface {
	Stat(path string) (fs.FileInfo, error)
	// Access reports whether the calling process may access path with mode.
	Access(path string, mode uint32) error
	LookupUser(name string) error
	LookupGroup(name string) error
}

// SystemEnv consults the real filesystem and account database.
type SystemEnv struct{}

func (SystemEnv) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (SystemEnv) Access(path string, mode uint32) error { return access(path, mode) }

func (SystemEnv) LookupUser(name string) error {
	_, err := user.Lookup(name)
	return err
}

func (SystemEnv) LookupGroup(name string) error {
	_, err := user.LookupGroup(name)
	return err
}
