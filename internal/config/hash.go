package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashConfig fingerprints the typed config for reload dedup. Hashing
// the marshaled struct rather than the file bytes makes the result
// immune to comment and whitespace edits. Returns 0 when cfg cannot be
// hashed; callers treat 0 as "always changed".
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
