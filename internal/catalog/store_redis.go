package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the catalog in Redis next to the indexer's read model.
//
// Layout, under the configured prefix:
//
//	catalog:orgs                 sorted set of org ids
//	catalog:org:<orgId>          JSON Org
//	catalog:members:<orgId>      sorted set principal -> join sequence
//	catalog:joinseq:<orgId>      join sequence counter
//	catalog:files:<orgId>        hash fileId -> JSON File
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + "catalog:" + strings.Join(parts, ":")
}

func (s *RedisStore) PutOrg(ctx context.Context, org Org) error {
	raw, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("encode organization %d: %w", org.OrgID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("org", u32(org.OrgID)), raw, 0)
		p.ZAdd(ctx, s.key("orgs"), redis.Z{Score: float64(org.OrgID), Member: u32(org.OrgID)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save organization %d: %w", org.OrgID, err)
	}
	return nil
}

func (s *RedisStore) Org(ctx context.Context, orgID uint32) (*Org, bool, error) {
	raw, err := s.client.Get(ctx, s.key("org", u32(orgID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read organization %d: %w", orgID, err)
	}
	org := &Org{}
	if err := json.Unmarshal(raw, org); err != nil {
		return nil, false, fmt.Errorf("organization %d: corrupt entry: %w", orgID, err)
	}
	return org, true, nil
}

func (s *RedisStore) Orgs(ctx context.Context) ([]Org, error) {
	ids, err := s.client.ZRange(ctx, s.key("orgs"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	if len(ids) == 0 {
		return []Org{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("org", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read organizations: %w", err)
	}
	out := make([]Org, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			logger.Warningf("organization %s is indexed but has no entry. Skipping.", ids[i])
			continue
		}
		var org Org
		if err := json.Unmarshal([]byte(raw), &org); err != nil {
			return nil, fmt.Errorf("organization %s: corrupt entry: %w", ids[i], err)
		}
		out = append(out, org)
	}
	sortOrgs(out)
	return out, nil
}

func (s *RedisStore) Join(ctx context.Context, orgID uint32, principal string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("org", u32(orgID))).Result()
	if err != nil {
		return false, fmt.Errorf("read organization %d: %w", orgID, err)
	}
	if n == 0 {
		return false, fmt.Errorf("%w: %d", ErrUnknownOrg, orgID)
	}
	membersKey := s.key("members", u32(orgID))
	if _, err := s.client.ZScore(ctx, membersKey, principal).Result(); err == nil {
		return false, nil
	} else if !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read members of %d: %w", orgID, err)
	}
	seq, err := s.client.Incr(ctx, s.key("joinseq", u32(orgID))).Result()
	if err != nil {
		return false, fmt.Errorf("join organization %d: %w", orgID, err)
	}
	added, err := s.client.ZAddNX(ctx, membersKey, redis.Z{Score: float64(seq), Member: principal}).Result()
	if err != nil {
		return false, fmt.Errorf("join organization %d: %w", orgID, err)
	}
	return added == 1, nil
}

func (s *RedisStore) Members(ctx context.Context, orgID uint32) ([]string, error) {
	out, err := s.client.ZRange(ctx, s.key("members", u32(orgID)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read members of %d: %w", orgID, err)
	}
	return out, nil
}

func (s *RedisStore) PutFile(ctx context.Context, file File) error {
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode file %d: %w", file.FileID, err)
	}
	if err := s.client.HSet(ctx, s.key("files", u32(file.OrgID)), u32(file.FileID), raw).Err(); err != nil {
		return fmt.Errorf("save file %d of organization %d: %w", file.FileID, file.OrgID, err)
	}
	return nil
}

func (s *RedisStore) File(ctx context.Context, orgID, fileID uint32) (*File, bool, error) {
	raw, err := s.client.HGet(ctx, s.key("files", u32(orgID)), u32(fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read file %d of organization %d: %w", fileID, orgID, err)
	}
	f := &File{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, false, fmt.Errorf("file %d of organization %d: corrupt entry: %w", fileID, orgID, err)
	}
	return f, true, nil
}

func (s *RedisStore) Files(ctx context.Context, orgID uint32) ([]File, error) {
	entries, err := s.client.HGetAll(ctx, s.key("files", u32(orgID))).Result()
	if err != nil {
		return nil, fmt.Errorf("read files of organization %d: %w", orgID, err)
	}
	out := make([]File, 0, len(entries))
	for field, raw := range entries {
		var f File
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("file %s of organization %d: corrupt entry: %w", field, orgID, err)
		}
		out = append(out, f)
	}
	sortFiles(out)
	return out, nil
}

// Close is a no-op: the client is shared with the indexer store, which closes it.
func (s *RedisStore) Close() error { return nil }
