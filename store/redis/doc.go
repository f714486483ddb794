// Package redis implements store.Store on Redis.
//
// Jobs are Hashes. Each queue keeps a Sorted Set of reservable job IDs
// scored by availability, and a single Sorted Set tracks owned jobs scored
// by reservation deadline so the reaper finds them without a scan. Every
// transition runs as one Lua script, which makes it atomic on the server.
//
// Redis Cluster is supported because every key shares the hash tag in the
// prefix ("{taskq}:" by default) and therefore lives in a single slot. The
// consequence is that one store's data cannot be spread across shards; run
// several stores with distinct prefixes to shard by namespace.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
