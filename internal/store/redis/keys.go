package redis

import (
	"fmt"
	"strings"
)

// DefaultKeyPrefix namespaces ping snapshots when no prefix is configured.
const DefaultKeyPrefix = "lacylights:ping:"

// SnapshotKey returns the key holding the snapshot of the named controller.
func SnapshotKey(prefix, name string) string {
	return prefix + name
}

// ExtractName extracts the controller name from a snapshot key.
func ExtractName(prefix, key string) (string, error) {
	if len(key) <= len(prefix) || !strings.HasPrefix(key, prefix) {
		return "", fmt.Errorf("invalid snapshot key: %s", key)
	}
	return key[len(prefix):], nil
}
