package wal

import (
	"io"
	"os"
)

// File is the handle a Wal needs for the main database file and for
// its own log file.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
	Stat() (os.FileInfo, error)
}

// Vfs abstracts the filesystem a Manager opens log files through, so
// tests and alternate storage backends can substitute their own.
type Vfs interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
}

// OsVfs is the production Vfs backed by the OS filesystem.
type OsVfs struct{}

func (OsVfs) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (OsVfs) Remove(name string) error { return os.Remove(name) }

func (OsVfs) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
