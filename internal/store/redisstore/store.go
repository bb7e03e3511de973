package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/pulse/internal/store"
)

// memberField is the stream field holding the account id.
const memberField = "account"

// Store implements store.Store on Redis. The client is a connection pool and
// is shared by every component of a process.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client. Close leaves the client open.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Open parses a redis:// URL, dials it and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	s := &Store{client: redis.NewClient(opts), owned: true}
	if err := s.Ping(ctx); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	return s, nil
}

// Client exposes the underlying client.
func (s *Store) Client() redis.UniversalClient { return s.client }

func (s *Store) Ping(ctx context.Context) error {
	return store.Transport("Ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := s.client.SAdd(ctx, key, toArgs(members)...).Result()
	if err != nil {
		return 0, store.Transport("SetAdd", err)
	}
	return int(n), nil
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := s.client.SRem(ctx, key, toArgs(members)...).Result()
	if err != nil {
		return 0, store.Transport("SetRemove", err)
	}
	return int(n), nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, store.Transport("SetMembers", err)
	}
	return members, nil
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, store.Transport("SetCard", err)
}

func (s *Store) ListEnqueue(ctx context.Context, listKey, pendingKey string, members []string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}
	res, err := listEnqueueScript.Run(ctx, s.client, []string{listKey, pendingKey}, toArgs(members)...).Result()
	if err != nil {
		return nil, store.Transport("ListEnqueue", err)
	}
	return toStrings(res)
}

func (s *Store) ListPop(ctx context.Context, listKey, pendingKey string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	res, err := listPopScript.Run(ctx, s.client, []string{listKey, pendingKey}, n).Result()
	if err != nil {
		return nil, store.Transport("ListPop", err)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("redisstore: unexpected ListPop reply %T", res)
	}
	popped, err := toStrings(parts[0])
	if err != nil {
		return nil, err
	}
	missing, err := toStrings(parts[1])
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return popped, &store.PartialBatchError{Op: "ListPop", Members: missing}
	}
	return popped, nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, store.Transport("ListLen", err)
}

func (s *Store) LogCreateGroup(ctx context.Context, logKey, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, logKey, group, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return store.Transport("LogCreateGroup", err)
}

func (s *Store) LogEnqueue(ctx context.Context, logKey, pendingKey string, members []string) ([]store.Entry, error) {
	if len(members) == 0 {
		return nil, nil
	}
	res, err := logEnqueueScript.Run(ctx, s.client, []string{logKey, pendingKey}, toArgs(members)...).Result()
	if err != nil {
		return nil, store.Transport("LogEnqueue", err)
	}
	flat, err := toStrings(res)
	if err != nil {
		return nil, err
	}
	return pairsToEntries(flat), nil
}

func (s *Store) LogReadGroup(ctx context.Context, logKey, group, consumer string, n int, block time.Duration) ([]store.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{logKey, ">"},
		Count:    int64(n),
		// A zero Block is sent as BLOCK 0, which waits forever. Negative omits it.
		Block: -1,
	}
	if block > 0 {
		args.Block = block
	}
	streams, err := s.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Transport("LogReadGroup", err)
	}
	var out []store.Entry
	for _, st := range streams {
		out = append(out, toEntries(st.Messages)...)
	}
	return out, nil
}

func (s *Store) LogAck(ctx context.Context, logKey, pendingKey, group string, entries []store.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, 1+2*len(entries))
	args = append(args, group)
	for _, e := range entries {
		args = append(args, e.ID, e.Member)
	}
	res, err := logAckScript.Run(ctx, s.client, []string{logKey, pendingKey}, args...).Result()
	if err != nil {
		return 0, store.Transport("LogAck", err)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, fmt.Errorf("redisstore: unexpected LogAck reply %T", res)
	}
	acked, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("redisstore: unexpected LogAck count %T", parts[0])
	}
	missing, err := toStrings(parts[1])
	if err != nil {
		return int(acked), err
	}
	if len(missing) > 0 {
		return int(acked), &store.PartialBatchError{Op: "LogAck", Members: missing}
	}
	return int(acked), nil
}

func (s *Store) LogPending(ctx context.Context, logKey, group string, n int) ([]store.PendingEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: logKey,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  int64(n),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Transport("LogPending", err)
	}
	out := make([]store.PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, store.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return out, nil
}

// LogClaim checks each entry's idle time inside a script before claiming
// it, so the minIdle guard holds on every server that runs the script.
func (s *Store) LogClaim(ctx context.Context, logKey, group, consumer string, minIdle time.Duration, ids []string) ([]store.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, 3+len(ids))
	args = append(args, group, consumer, minIdle.Milliseconds())
	args = append(args, toArgs(ids)...)
	res, err := logClaimScript.Run(ctx, s.client, []string{logKey}, args...).Result()
	if err != nil {
		return nil, store.Transport("LogClaim", err)
	}
	flat, err := toStrings(res)
	if err != nil {
		return nil, err
	}
	return pairsToEntries(flat), nil
}

func (s *Store) LogLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.XLen(ctx, key).Result()
	return n, store.Transport("LogLen", err)
}

func toEntries(msgs []redis.XMessage) []store.Entry {
	out := make([]store.Entry, 0, len(msgs))
	for _, m := range msgs {
		member, _ := m.Values[memberField].(string)
		out = append(out, store.Entry{ID: m.ID, Member: member})
	}
	return out
}

// pairsToEntries reads a flat {id, member, ...} script reply.
func pairsToEntries(flat []string) []store.Entry {
	entries := make([]store.Entry, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		entries = append(entries, store.Entry{ID: flat[i], Member: flat[i+1]})
	}
	return entries
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

func toStrings(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("redisstore: unexpected script reply %T", v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("redisstore: unexpected script item %T", it)
		}
		out = append(out, s)
	}
	return out, nil
}
