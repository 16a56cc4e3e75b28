package namespace

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const configFileName = "config.json"

// ErrMalformedConfig reports an on-disk config that failed to decode.
// The namespace fails to come up rather than starting with defaults.
var ErrMalformedConfig = errors.New("namespace: malformed config")

// ConfigStore durably persists namespace configs. The metadata store's
// apply loop writes through it before publishing a change, so a change
// is never observable without being durable.
type ConfigStore interface {
	Store(ns Name, config *DatabaseConfig) error
	Load(ns Name) (*DatabaseConfig, error)
}

// FileConfigStore keeps one config.json per namespace directory under
// a root path, written atomically via rename.
type FileConfigStore struct {
	root string
}

func NewFileConfigStore(root string) *FileConfigStore {
	return &FileConfigStore{root: root}
}

func (s *FileConfigStore) path(ns Name) string {
	return filepath.Join(s.root, ns.String(), configFileName)
}

func (s *FileConfigStore) Store(ns Name, config *DatabaseConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return errors.Wrapf(err, "failed to encode config for namespace %s", ns)
	}

	path := s.path(ns)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "failed to create namespace directory for %s", ns)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config for namespace %s", ns)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to commit config for namespace %s", ns)
	}
	return nil
}

// Load reads the namespace's persisted config, returning the default
// config when none was ever stored and ErrMalformedConfig when the file
// exists but cannot be decoded.
func (s *FileConfigStore) Load(ns Name) (*DatabaseConfig, error) {
	data, err := os.ReadFile(s.path(ns))
	if os.IsNotExist(err) {
		return DefaultDatabaseConfig(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config for namespace %s", ns)
	}

	var config DatabaseConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(ErrMalformedConfig, "namespace %s: %v", ns, err)
	}
	return &config, nil
}
