package mailbox

import "github.com/redis/go-redis/v9"

// insertScript performs the atomic core of spec §4.3 step 4-6: enforce hard
// caps on both sides, dedupe against the recipient's receive-queue, and
// insert into both queues plus the shared content-addressed envelope store,
// all as one server-side operation so the byte counters (invariant b) never
// observe a torn write under concurrent callers.
//
// KEYS: 1 sendZSet 2 sendBytesKey 3 recvZSet 4 recvBytesKey 5 msgHashKey
// ARGV: 1 contentHash 2 arrivalScore 3 size 4 sendHardCap 5 recvHardCap
//
//	6 envelope 7 senderHash 8 recipientHash 9 receivedAtUnix 10 expiresAtUnix
var insertScript = redis.NewScript(`
local sendZSet   = KEYS[1]
local sendBytes  = KEYS[2]
local recvZSet   = KEYS[3]
local recvBytes  = KEYS[4]
local msgHash    = KEYS[5]

local contentHash  = ARGV[1]
local arrivalScore = ARGV[2]
local size          = tonumber(ARGV[3])
local sendHardCap    = tonumber(ARGV[4])
local recvHardCap    = tonumber(ARGV[5])
local envelope        = ARGV[6]
local senderHash       = ARGV[7]
local recipientHash    = ARGV[8]
local receivedAt        = ARGV[9]
local expiresAt          = ARGV[10]

-- dedupe: already present in recipient's receive-queue.
if redis.call('ZSCORE', recvZSet, contentHash) then
  return {'dup', '0'}
end

local sendCount = redis.call('ZCARD', sendZSet)
local sendCur = tonumber(redis.call('GET', sendBytes) or '0')
if sendHardCap >= 0 and (sendCur + size) > sendHardCap then
  return {'rejected', 'queue-limit-sender'}
end

local recvCount = redis.call('ZCARD', recvZSet)
local recvCur = tonumber(redis.call('GET', recvBytes) or '0')
if recvHardCap >= 0 and (recvCur + size) > recvHardCap then
  return {'rejected', 'queue-limit-recipient'}
end

if redis.call('EXISTS', msgHash) == 0 then
  redis.call('HSET', msgHash,
    'envelope', envelope,
    'size', size,
    'sender', senderHash,
    'recipient', recipientHash,
    'receivedAt', receivedAt,
    'expiresAt', expiresAt)
end

redis.call('ZADD', sendZSet, arrivalScore, contentHash)
redis.call('INCRBY', sendBytes, size)

redis.call('ZADD', recvZSet, arrivalScore, contentHash)
redis.call('INCRBY', recvBytes, size)

return {'stored', '0'}
`)

// deleteScript removes contentHash from a single queue and adjusts its
// byte counter atomically, deleting the shared envelope record only once
// the opposite queue no longer references the same content-hash either.
//
// KEYS: 1 zsetKey 2 bytesKey 3 msgHashKey 4 otherZsetKey
// ARGV: 1 contentHash
var deleteScript = redis.NewScript(`
local zsetKey      = KEYS[1]
local bytesKey     = KEYS[2]
local msgHash      = KEYS[3]
local otherZsetKey = KEYS[4]

local contentHash = ARGV[1]

local score = redis.call('ZSCORE', zsetKey, contentHash)
if not score then
  return 0
end

local size = tonumber(redis.call('HGET', msgHash, 'size') or '0')

redis.call('ZREM', zsetKey, contentHash)
local newVal = redis.call('DECRBY', bytesKey, size)
if newVal < 0 then
  redis.call('SET', bytesKey, '0')
end

if not redis.call('ZSCORE', otherZsetKey, contentHash) then
  redis.call('DEL', msgHash)
end

return 1
`)
