package utils

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/asajjanshetty/libsql/utils/log"
)

const (
	// RolePrimary accepts writes and appends committed frames to the
	// replication log.
	RolePrimary = "primary"
	// RoleReplica replays the primary's log locally and proxies writes.
	RoleReplica = "replica"

	defaultListenPort      = "5432"
	defaultMetaChannelSize = 256
	defaultStopGracePeriod = 5 * time.Second
)

// Config is the process-wide server configuration, parsed from the
// YAML configuration file at startup.
type Config struct {
	RootDirectory   string
	ListenPort      string
	MetricsPort     string
	Role            string
	PrimaryAddr     string
	MetaChannelSize int
	StopGracePeriod time.Duration
	StartTime       time.Time
}

// ParseConfig parses and validates the YAML configuration data.
func ParseConfig(data []byte) (*Config, error) {
	var aux struct {
		RootDirectory   string `yaml:"root_directory"`
		ListenPort      string `yaml:"listen_port"`
		MetricsPort     string `yaml:"metrics_port"`
		Role            string `yaml:"role"`
		PrimaryAddr     string `yaml:"primary_addr"`
		MetaChannelSize int    `yaml:"meta_channel_size"`
		LogLevel        string `yaml:"log_level"`
		StopGracePeriod int    `yaml:"stop_grace_period"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration file")
	}

	if aux.RootDirectory == "" {
		return nil, errors.New("invalid root directory")
	}

	c := &Config{
		RootDirectory:   aux.RootDirectory,
		ListenPort:      defaultListenPort,
		Role:            RolePrimary,
		MetaChannelSize: defaultMetaChannelSize,
		StopGracePeriod: defaultStopGracePeriod,
	}

	if aux.ListenPort != "" {
		c.ListenPort = aux.ListenPort
	}
	c.MetricsPort = aux.MetricsPort

	if aux.Role != "" {
		switch aux.Role {
		case RolePrimary, RoleReplica:
			c.Role = aux.Role
		default:
			return nil, fmt.Errorf("invalid role: %s", aux.Role)
		}
	}
	if c.Role == RoleReplica && aux.PrimaryAddr == "" {
		return nil, errors.New("primary_addr is required for the replica role")
	}
	c.PrimaryAddr = aux.PrimaryAddr

	if aux.MetaChannelSize > 0 {
		c.MetaChannelSize = aux.MetaChannelSize
	}
	if aux.StopGracePeriod > 0 {
		c.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	switch aux.LogLevel {
	case "error":
		log.SetLevel(log.ERROR)
	case "warning":
		log.SetLevel(log.WARNING)
	case "debug":
		log.SetLevel(log.DEBUG)
	case "info", "":
		log.SetLevel(log.INFO)
	default:
		return nil, fmt.Errorf("invalid log_level: %s", aux.LogLevel)
	}

	return c, nil
}
