package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/ports"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceRegistry keeps the live driver roster under keyPrefix:
//
//	<prefix>presence:index         set of user ids
//	<prefix>presence:entry:<id>    entry JSON
//	<prefix>presence:session:<id>  owning session id
//
// Entry and session keys share a lease of ttl that live sessions renew with
// Touch, so a crashed instance's drivers fall out of the roster on their own.
// Every mutation is a Lua script, which keeps replace and guarded remove atomic.
type PresenceRegistry struct {
	rdb           *goredis.Client
	indexKey      string
	entryPrefix   string
	sessionPrefix string
	ttl           time.Duration
}

var _ ports.PresenceRegistry = (*PresenceRegistry)(nil)

// KEYS[1]=entry KEYS[2]=session KEYS[3]=index
// ARGV[1]=entry ARGV[2]=sessionId ARGV[3]=userId ARGV[4]=ttl ms (0 keeps forever)
var putScript = goredis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if tonumber(ARGV[4]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('SADD', KEYS[3], ARGV[3])
return prev
`)

// Same keys and arguments as putScript. Returns 0 when another session owns the user.
var touchScript = goredis.NewScript(`
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[2] then
  return 0
end
if tonumber(ARGV[4]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('SADD', KEYS[3], ARGV[3])
return 1
`)

// KEYS[1]=entry KEYS[2]=session KEYS[3]=index ARGV[1]=sessionId ARGV[2]=userId
var removeScript = goredis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[1] then
  return false
end
local prev = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[2])
return prev
`)

// KEYS[1]=index ARGV[1]=entry key prefix. Lapsed ids are pruned from the index.
var listScript = goredis.NewScript(`
local out = {}
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local v = redis.call('GET', ARGV[1] .. id)
  if v then
    table.insert(out, v)
  else
    redis.call('SREM', KEYS[1], id)
  end
end
return out
`)

// NewPresenceRegistry binds the registry to rdb under keyPrefix (e.g. "fleet:").
// A ttl of zero disables expiry.
func NewPresenceRegistry(rdb *goredis.Client, keyPrefix string, ttl time.Duration) *PresenceRegistry {
	return &PresenceRegistry{
		rdb:           rdb,
		indexKey:      keyPrefix + "presence:index",
		entryPrefix:   keyPrefix + "presence:entry:",
		sessionPrefix: keyPrefix + "presence:session:",
		ttl:           ttl,
	}
}

func (r *PresenceRegistry) Put(ctx context.Context, entry tracking.PresenceEntry) (*tracking.PresenceEntry, error) {
	if entry.SessionID == "" {
		return nil, tracking.ErrEmptySession
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode presence entry: %w", err)
	}

	prev, err := putScript.Run(ctx, r.rdb, r.keys(entry.UserID),
		string(body), entry.SessionID, field(entry.UserID), r.ttl.Milliseconds(),
	).Text()
	return decodeOptional(prev, err)
}

func (r *PresenceRegistry) Touch(ctx context.Context, entry tracking.PresenceEntry) (bool, error) {
	if entry.SessionID == "" {
		return false, tracking.ErrEmptySession
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode presence entry: %w", err)
	}

	n, err := touchScript.Run(ctx, r.rdb, r.keys(entry.UserID),
		string(body), entry.SessionID, field(entry.UserID), r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (r *PresenceRegistry) Remove(ctx context.Context, userID int64, sessionID string) (*tracking.PresenceEntry, error) {
	prev, err := removeScript.Run(ctx, r.rdb, r.keys(userID), sessionID, field(userID)).Text()
	return decodeOptional(prev, err)
}

func (r *PresenceRegistry) Get(ctx context.Context, userID int64) (*tracking.PresenceEntry, error) {
	raw, err := r.rdb.Get(ctx, r.entryPrefix+field(userID)).Result()
	return decodeOptional(raw, err)
}

func (r *PresenceRegistry) List(ctx context.Context) ([]tracking.PresenceEntry, error) {
	vals, err := listScript.Run(ctx, r.rdb, []string{r.indexKey}, r.entryPrefix).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}

	out := make([]tracking.PresenceEntry, 0, len(vals))
	for _, v := range vals {
		var e tracking.PresenceEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode presence entry: %w", err)
		}
		out = append(out, e)
	}
	tracking.SortEntries(out)
	return out, nil
}

func (r *PresenceRegistry) keys(userID int64) []string {
	id := field(userID)
	return []string{r.entryPrefix + id, r.sessionPrefix + id, r.indexKey}
}

func decodeOptional(raw string, err error) (*tracking.PresenceEntry, error) {
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	var e tracking.PresenceEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode presence entry: %w", err)
	}
	return &e, nil
}

func field(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
