// Package namespace holds per-tenant identity and configuration: the
// namespace name, its immutable runtime config, and the metadata store
// through which configs are read and updated.
package namespace

import (
	"github.com/pkg/errors"
)

// InternalName is the reserved bootstrap namespace. It is served by the
// synchronous Internal metadata handle and never goes through the
// change channel.
const InternalName Name = "_libsql_server_internal"

const maxNameLen = 64

// Name identifies a namespace. It is the multiplexing key for every
// per-namespace map in the server.
type Name string

// ErrInvalidName rejects names that cannot be namespace identifiers.
var ErrInvalidName = errors.New("namespace: invalid name")

// NewName validates s as a namespace name: non-empty, at most 64
// characters, drawn from [A-Za-z0-9_-].
func NewName(s string) (Name, error) {
	if s == "" || len(s) > maxNameLen {
		return "", errors.Wrapf(ErrInvalidName, "%q", s)
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return "", errors.Wrapf(ErrInvalidName, "%q", s)
		}
	}
	return Name(s), nil
}

func (n Name) String() string { return string(n) }
