package redis

import goredis "github.com/redis/go-redis/v9"

// Each transition is one script so that concurrent workers observe it
// atomically. Numbers cross the Lua boundary as integer strings.
//
// Reserve and reap cannot name the job hashes they touch up front, so some
// keys are built inside the scripts from the prefix. The prefix carries a
// hash tag, which keeps every key in one Redis Cluster slot.

// enqueueScript KEYS: job, jobs set, ready, owned, [schedule].
// ARGV: id, ready score or "", owned score or "", field/value pairs...
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('SADD', KEYS[2], ARGV[1])
if ARGV[2] ~= '' then redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1]) end
if ARGV[3] ~= '' then redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1]) end
if KEYS[5] then redis.call('SADD', KEYS[5], ARGV[1]) end
return 1
`)

// reserveScript KEYS: ready, owned. ARGV: now, limit, worker, job key prefix.
// Ties on the boundary score are pulled in so the created_at order holds.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local raw = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'WITHSCORES', 'LIMIT', 0, limit)
if #raw == 0 then return {} end

local cands, seen = {}, {}
for i = 1, #raw, 2 do
  cands[#cands + 1] = {id = raw[i], score = tonumber(raw[i + 1])}
  seen[raw[i]] = true
end
if #cands == limit then
  local last = cands[#cands].score
  for _, m in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], last, last)) do
    if not seen[m] then cands[#cands + 1] = {id = m, score = last} end
  end
end

local live = {}
for _, c in ipairs(cands) do
  local f = redis.call('HMGET', ARGV[4] .. c.id, 'status', 'created_at')
  if f[1] == 'pending' or f[1] == 'failed_retrying' then
    c.created = tonumber(f[2]) or 0
    live[#live + 1] = c
  else
    redis.call('ZREM', KEYS[1], c.id)
  end
end
table.sort(live, function(a, b)
  if a.score ~= b.score then return a.score < b.score end
  if a.created ~= b.created then return a.created < b.created end
  return a.id < b.id
end)

local out = {}
for i = 1, math.min(limit, #live) do
  local c = live[i]
  local key = ARGV[4] .. c.id
  local timeout = tonumber(redis.call('HGET', key, 'timeout_ms')) or 0
  redis.call('HSET', key, 'status', 'reserved', 'reserved_by', ARGV[3],
    'reserved_at', ARGV[1], 'updated_at', ARGV[1])
  redis.call('ZREM', KEYS[1], c.id)
  redis.call('ZADD', KEYS[2], string.format('%d', now + timeout), c.id)
  out[#out + 1] = redis.call('HGETALL', key)
end
return out
`)

// markRunningScript KEYS: job. ARGV: worker, now.
var markRunningScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {'not_found'} end
local f = redis.call('HMGET', KEYS[1], 'status', 'reserved_by', 'attempts', 'max_attempts')
if f[1] ~= 'reserved' then return {'invalid_state'} end
if f[2] ~= ARGV[1] then return {'concurrency'} end
if tonumber(f[3]) >= tonumber(f[4]) then return {'budget'} end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'status', 'running', 'updated_at', ARGV[2])
return {'ok', redis.call('HGETALL', KEYS[1])}
`)

// transitionScript KEYS: job, owned, jobs set.
// ARGV: op, now, delay, last error, key prefix, purge flag, id, worker.
// Every op but cancel requires the record to be owned by worker; cancel
// requires it to be unowned and reservable.
var transitionScript = goredis.NewScript(`
local key, id, prefix = KEYS[1], ARGV[7], ARGV[5]
if redis.call('EXISTS', key) == 0 then return 'not_found' end
local f = redis.call('HMGET', key, 'status', 'queue', 'schedule', 'available_at', 'attempts', 'reserved_by')
local status, queue, schedule = f[1], f[2], f[3]
local op, now = ARGV[1], tonumber(ARGV[2])

if op == 'cancel' then
  if status ~= 'pending' and status ~= 'failed_retrying' then return 'invalid_state' end
else
  if status ~= 'reserved' and status ~= 'running' then return 'invalid_state' end
  if f[6] ~= ARGV[8] then return 'concurrency' end
end

local ready = prefix .. 'ready:' .. queue
redis.call('ZREM', KEYS[2], id)
redis.call('ZREM', ready, id)
redis.call('HDEL', key, 'reserved_by', 'reserved_at')

local function untag()
  if schedule and schedule ~= '' then
    redis.call('SREM', prefix .. 'schedule:' .. schedule, id)
  end
end

if op == 'ack' and ARGV[6] == '1' or op == 'delete' then
  untag()
  redis.call('DEL', key)
  redis.call('SREM', KEYS[3], id)
  return 'ok'
end

if op == 'ack' then
  untag()
  redis.call('HSET', key, 'status', 'succeeded', 'finished_at', ARGV[2], 'updated_at', ARGV[2])
elseif op == 'kill' or op == 'cancel' then
  untag()
  redis.call('HSET', key, 'status', 'dead', 'last_error', ARGV[4],
    'finished_at', ARGV[2], 'updated_at', ARGV[2])
else
  local avail = math.max(tonumber(f[4]), now + tonumber(ARGV[3]))
  local at = string.format('%d', avail)
  if op == 'release' then
    if status == 'running' and tonumber(f[5]) > 0 then
      redis.call('HINCRBY', key, 'attempts', -1)
    end
    redis.call('HSET', key, 'status', 'pending', 'available_at', at, 'updated_at', ARGV[2])
  else
    redis.call('HSET', key, 'status', 'failed_retrying', 'available_at', at,
      'last_error', ARGV[4], 'updated_at', ARGV[2])
  end
  redis.call('ZADD', ready, at, id)
end
return 'ok'
`)

// reapScript KEYS: owned. ARGV: now, cutoff (now - grace), key prefix,
// error message. Owned scores are reserved_at + timeout, so every member
// strictly below the cutoff has expired.
var reapScript = goredis.NewScript(`
local prefix = ARGV[3]
local out = {}
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])) do
  local key = prefix .. 'job:' .. id
  redis.call('ZREM', KEYS[1], id)
  local f = redis.call('HMGET', key, 'status', 'attempts', 'max_attempts', 'available_at', 'queue', 'schedule')
  if f[1] == 'reserved' or f[1] == 'running' then
    redis.call('HDEL', key, 'reserved_by', 'reserved_at')
    redis.call('HSET', key, 'last_error', ARGV[4], 'updated_at', ARGV[1])
    if tonumber(f[2]) < tonumber(f[3]) then
      local at = string.format('%d', math.max(tonumber(f[4]), tonumber(ARGV[1])))
      redis.call('HSET', key, 'status', 'failed_retrying', 'available_at', at)
      redis.call('ZADD', prefix .. 'ready:' .. f[5], at, id)
    else
      redis.call('HSET', key, 'status', 'dead', 'finished_at', ARGV[1])
      if f[6] and f[6] ~= '' then redis.call('SREM', prefix .. 'schedule:' .. f[6], id) end
    end
    out[#out + 1] = redis.call('HGETALL', key)
  end
end
return out
`)

// acquireLeaseScript KEYS: lease. ARGV: owner, ttl ms.
var acquireLeaseScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseLeaseScript KEYS: lease. ARGV: owner.
var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then redis.call('DEL', KEYS[1]) end
return 0
`)

var allScripts = []*goredis.Script{
	enqueueScript, reserveScript, markRunningScript, transitionScript,
	reapScript, acquireLeaseScript, releaseLeaseScript,
}
