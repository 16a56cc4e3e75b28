package namespace

// DatabaseConfig is a namespace's runtime policy. Instances are
// immutable: every change produces a new instance, and consumers hold
// the config as of the last observed change, never a mutable handle to
// live state.
type DatabaseConfig struct {
	BlockReads   bool   `json:"block_reads"`
	BlockWrites  bool   `json:"block_writes"`
	BlockReason  string `json:"block_reason,omitempty"`
	MaxDBPages   uint64 `json:"max_db_pages"`
	HeartbeatURL string `json:"heartbeat_url,omitempty"`
}

// DefaultDatabaseConfig is the policy a namespace starts with before
// any config was ever stored for it.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{}
}
