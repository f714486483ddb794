package redis

import "strings"

// Redis key naming conventions. All keys are prefixed with "{taskq}:" by
// default to avoid collisions; WithPrefix changes it. The braces are a
// Redis Cluster hash tag: every key hashes to the same slot, so the Lua
// scripts may touch keys they build from the prefix.

const defaultPrefix = "{taskq}:"

// tagPrefix wraps a namespace without a hash tag as "{ns}:".
func tagPrefix(p string) string {
	if open := strings.IndexByte(p, '{'); open >= 0 {
		if end := strings.IndexByte(p[open+1:], '}'); end > 0 {
			return p
		}
	}
	return "{" + strings.TrimSuffix(p, ":") + "}:"
}

// jobKey returns the Hash key for a job: {taskq}:job:<id>
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// readyKey returns the Sorted Set of reservable jobs of a queue, scored by
// available_at in epoch milliseconds: {taskq}:ready:<queue>
func (s *Store) readyKey(queue string) string { return s.prefix + "ready:" + queue }

// ownedKey is the Sorted Set of reserved and running jobs, scored by
// reserved_at + timeout in epoch milliseconds.
func (s *Store) ownedKey() string { return s.prefix + "owned" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "jobs" }

// scheduleKey is the Set of non-terminal job IDs tagged with a schedule.
func (s *Store) scheduleKey(name string) string { return s.prefix + "schedule:" + name }

// dlqKey returns the Hash key for a DLQ entry: {taskq}:dlq:<id>
func (s *Store) dlqKey(id string) string { return s.prefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of DLQ entry IDs scored by failed_at.
func (s *Store) dlqIndexKey() string { return s.prefix + "dlq_index" }

// leaseKey holds the owner of a cluster lease with a server-side TTL.
func (s *Store) leaseKey(key string) string { return s.prefix + "lease:" + key }
