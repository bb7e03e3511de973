package redisstore

import "github.com/redis/go-redis/v9"

// Every multi-key operation is one script so the store executes it as a unit.

// KEYS[1] list, KEYS[2] pending set; ARGV members.
var listEnqueueScript = redis.NewScript(`
local appended = {}
for _, member in ipairs(ARGV) do
  if redis.call('SADD', KEYS[2], member) == 1 then
    redis.call('RPUSH', KEYS[1], member)
    appended[#appended + 1] = member
  end
end
return appended
`)

// KEYS[1] list, KEYS[2] pending set; ARGV[1] max items.
// Returns {popped, unmarked-missing}.
var listPopScript = redis.NewScript(`
local popped, missing = {}, {}
local n = tonumber(ARGV[1])
for i = 1, n do
  local member = redis.call('LPOP', KEYS[1])
  if not member then
    break
  end
  popped[#popped + 1] = member
  if redis.call('SREM', KEYS[2], member) == 0 then
    missing[#missing + 1] = member
  end
end
return {popped, missing}
`)

// KEYS[1] stream, KEYS[2] pending set; ARGV members.
// Returns a flat {id1, member1, id2, member2, ...}.
var logEnqueueScript = redis.NewScript(`
local out = {}
for _, member in ipairs(ARGV) do
  if redis.call('SADD', KEYS[2], member) == 1 then
    local id = redis.call('XADD', KEYS[1], '*', 'account', member)
    out[#out + 1] = id
    out[#out + 1] = member
  end
end
return out
`)

// KEYS[1] stream, KEYS[2] pending set; ARGV[1] group, then id/member pairs.
// Returns {acked, unmarked-missing}.
var logAckScript = redis.NewScript(`
local acked, missing = 0, {}
for i = 2, #ARGV, 2 do
  local id, member = ARGV[i], ARGV[i + 1]
  if redis.call('XACK', KEYS[1], ARGV[1], id) == 1 then
    acked = acked + 1
    if redis.call('SREM', KEYS[2], member) == 0 then
      missing[#missing + 1] = member
    end
    redis.call('XDEL', KEYS[1], id)
  end
end
return {acked, missing}
`)

// KEYS[1] stream; ARGV[1] group, ARGV[2] consumer, ARGV[3] min idle ms,
// then entry ids. Only entries whose pending idle time is at least the
// minimum are claimed. Returns a flat {id1, member1, ...}.
var logClaimScript = redis.NewScript(`
local out = {}
local minIdle = tonumber(ARGV[3])
for i = 4, #ARGV do
  local id = ARGV[i]
  local pend = redis.call('XPENDING', KEYS[1], ARGV[1], id, id, 1)[1]
  if pend and tonumber(pend[3]) >= minIdle then
    local entry = redis.call('XCLAIM', KEYS[1], ARGV[1], ARGV[2], ARGV[3], id)[1]
    if entry and entry[2] then
      local fields = entry[2]
      for j = 1, #fields, 2 do
        if fields[j] == 'account' then
          out[#out + 1] = entry[1]
          out[#out + 1] = fields[j + 1]
        end
      end
    end
  end
end
return out
`)
