package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"orgregistry/attest"
	"orgregistry/internal/platform/config"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 8

// NewRedisClient connects to Redis with the configured pool settings and pings it.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps the read model in Redis so several access replicas can share it.
//
// Layout, under the configured prefix (principals are keyed by their SHA-256 digest):
//
//	tx:<txid>                      applied marker
//	commitments:<principal>        list of commitments, oldest first
//	org:<orgId>                    hash root, updatedBy, updatedAt
//	member:<principal>             hash orgId -> "<fileId>:<unix ms>"
//	files:<principal>:<orgId>      hash fileId -> unix ms
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func principalKey(principal string) string {
	return attest.PrincipalDigest(principal).String()
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func (s *RedisStore) commitmentsKey(principal string) string {
	return s.key("commitments", principalKey(principal))
}

func (s *RedisStore) orgKey(orgID uint32) string { return s.key("org", u32(orgID)) }

func (s *RedisStore) memberKey(principal string) string {
	return s.key("member", principalKey(principal))
}

func (s *RedisStore) filesKey(principal string, orgID uint32) string {
	return s.key("files", principalKey(principal), u32(orgID))
}

// watchedKeys lists the keys whose current value decides what Apply writes.
func (s *RedisStore) watchedKeys(ev *Event) []string {
	keys := []string{s.key("tx", ev.TxID)}
	switch {
	case ev.OrgRootUpdated != nil:
		keys = append(keys, s.orgKey(ev.OrgRootUpdated.OrgID))
	case ev.ProofVerified != nil:
		p := ev.ProofVerified
		keys = append(keys, s.memberKey(p.Principal), s.filesKey(p.Principal, p.OrgID))
	}
	return keys
}

// Apply writes ev inside a WATCH transaction on the tx marker and the keys it reads, retrying
// when a concurrent writer touches them.
func (s *RedisStore) Apply(ctx context.Context, ev *Event) (bool, error) {
	keys := s.watchedKeys(ev)
	marker := keys[0]

	var changed bool
	txf := func(tx *redis.Tx) error {
		changed = false
		n, err := tx.Exists(ctx, marker).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		write, willChange, err := s.plan(ctx, tx, ev)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, marker, ev.BlockNumber, 0)
			write(p)
			return nil
		})
		if err == nil {
			changed = willChange
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("apply %s from tx %s: %w", ev.Name, ev.TxID, err)
		}
		return changed, nil
	}
	return false, fmt.Errorf("apply %s from tx %s: gave up after %d conflicting attempts", ev.Name, ev.TxID, maxWatchRetries)
}

// plan reads the state ev depends on and returns the queued writes.
func (s *RedisStore) plan(ctx context.Context, tx *redis.Tx, ev *Event) (func(redis.Pipeliner), bool, error) {
	noop := func(redis.Pipeliner) {}
	switch {
	case ev.IdentityCreated != nil:
		p := ev.IdentityCreated
		return func(pipe redis.Pipeliner) {
			pipe.RPush(ctx, s.commitmentsKey(p.Principal), p.Commitment)
		}, true, nil

	case ev.OrgRootUpdated != nil:
		p := ev.OrgRootUpdated
		key := s.orgKey(p.OrgID)
		stored, found, err := hgetInt(ctx, tx, key, "updatedAt")
		if err != nil {
			return nil, false, err
		}
		if found && p.Timestamp < stored {
			return noop, false, nil
		}
		return func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, key, "root", p.Root, "updatedBy", p.UpdatedBy, "updatedAt", p.Timestamp)
		}, true, nil

	case ev.ProofVerified != nil:
		p := ev.ProofVerified
		filesKey, memberKey := s.filesKey(p.Principal, p.OrgID), s.memberKey(p.Principal)
		fileAt, fileSeen, err := hgetInt(ctx, tx, filesKey, u32(p.FileID))
		if err != nil {
			return nil, false, err
		}
		raw, err := tx.HGet(ctx, memberKey, u32(p.OrgID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, false, err
		}
		latestAt := int64(0)
		if err == nil {
			if _, latestAt, err = parseMember(raw); err != nil {
				return nil, false, err
			}
		}
		updateFile := !fileSeen || p.Timestamp >= fileAt
		updateLatest := p.Timestamp >= latestAt
		return func(pipe redis.Pipeliner) {
			if updateFile {
				pipe.HSet(ctx, filesKey, u32(p.FileID), p.Timestamp)
			}
			if updateLatest {
				pipe.HSet(ctx, memberKey, u32(p.OrgID), formatMember(p.FileID, p.Timestamp))
			}
		}, updateFile || updateLatest, nil
	}
	return nil, false, ErrUnknownEvent
}

func hgetInt(ctx context.Context, c redis.Cmdable, key, field string) (int64, bool, error) {
	v, err := c.HGet(ctx, key, field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func formatMember(fileID uint32, at int64) string {
	return u32(fileID) + ":" + strconv.FormatInt(at, 10)
}

func parseMember(raw string) (uint32, int64, error) {
	file, at, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, 0, fmt.Errorf("corrupt membership entry %q", raw)
	}
	fileID, err := strconv.ParseUint(file, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("corrupt membership entry %q: %w", raw, err)
	}
	ms, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("corrupt membership entry %q: %w", raw, err)
	}
	return uint32(fileID), ms, nil
}

func (s *RedisStore) Commitments(ctx context.Context, principal string) ([]string, error) {
	out, err := s.client.LRange(ctx, s.commitmentsKey(principal), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read commitments: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Org(ctx context.Context, orgID uint32) (*OrgRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.orgKey(orgID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read organization %d: %w", orgID, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	at, err := strconv.ParseInt(fields["updatedAt"], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("organization %d: corrupt updatedAt: %w", orgID, err)
	}
	return &OrgRecord{OrgID: orgID, Root: fields["root"], UpdatedBy: fields["updatedBy"], UpdatedAt: millis(at)}, true, nil
}

func (s *RedisStore) Memberships(ctx context.Context, principal string) ([]Membership, error) {
	latest, err := s.client.HGetAll(ctx, s.memberKey(principal)).Result()
	if err != nil {
		return nil, fmt.Errorf("read memberships: %w", err)
	}

	out := make([]Membership, 0, len(latest))
	for field, raw := range latest {
		orgID, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("corrupt membership org id %q: %w", field, err)
		}
		fileID, at, err := parseMember(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Membership{OrgID: uint32(orgID), FileID: fileID, VerifiedAt: millis(at)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })

	cmds := make([]*redis.MapStringStringCmd, len(out))
	if _, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i := range out {
			cmds[i] = p.HGetAll(ctx, s.filesKey(principal, out[i].OrgID))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read file verifications: %w", err)
	}
	for i, cmd := range cmds {
		files := map[uint32]int64{}
		for field, v := range cmd.Val() {
			fileID, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("corrupt file id %q: %w", field, err)
			}
			at, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt file timestamp %q: %w", v, err)
			}
			files[uint32(fileID)] = at
		}
		out[i].Files = sortedFiles(files)
	}
	return out, nil
}

func (s *RedisStore) LatestVerification(ctx context.Context, principal string, orgID uint32) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.memberKey(principal), u32(orgID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read latest verification: %w", err)
	}
	_, at, err := parseMember(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return millis(at), true, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
