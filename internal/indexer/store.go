package indexer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OrgRecord is the indexed state of one organization.
type OrgRecord struct {
	OrgID     uint32    `json:"orgId"`
	Root      string    `json:"root"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileVerification is the latest verification of a principal for one file of an organization.
type FileVerification struct {
	FileID     uint32    `json:"fileId"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Membership is an organization a principal has proven membership of.
type Membership struct {
	OrgID      uint32             `json:"orgId"`
	FileID     uint32             `json:"fileId"` // File of the most recent verification
	VerifiedAt time.Time          `json:"verifiedAt"`
	Files      []FileVerification `json:"files"`
}

// Store is the indexer read model. Apply is idempotent per transaction id and reports whether
// the event changed anything.
type Store interface {
	Apply(ctx context.Context, ev *Event) (bool, error)
	Commitments(ctx context.Context, principal string) ([]string, error)
	Org(ctx context.Context, orgID uint32) (*OrgRecord, bool, error)
	Memberships(ctx context.Context, principal string) ([]Membership, error)
	LatestVerification(ctx context.Context, principal string, orgID uint32) (time.Time, bool, error)
	Close() error
}

func millis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type memberKey struct {
	principal string
	orgID     uint32
}

type memMembership struct {
	fileID uint32
	at     int64
	files  map[uint32]int64
}

// MemoryStore keeps the read model in process. It is used in tests and single-node setups.
type MemoryStore struct {
	mu          sync.RWMutex
	applied     map[string]struct{}
	commitments map[string][]string
	orgs        map[uint32]OrgRecord
	orgStamp    map[uint32]int64
	members     map[memberKey]*memMembership
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applied:     map[string]struct{}{},
		commitments: map[string][]string{},
		orgs:        map[uint32]OrgRecord{},
		orgStamp:    map[uint32]int64{},
		members:     map[memberKey]*memMembership{},
	}
}

func (m *MemoryStore) Apply(ctx context.Context, ev *Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ev.IdentityCreated == nil && ev.OrgRootUpdated == nil && ev.ProofVerified == nil {
		return false, ErrUnknownEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[ev.TxID]; ok {
		return false, nil
	}
	m.applied[ev.TxID] = struct{}{}

	switch {
	case ev.IdentityCreated != nil:
		p := ev.IdentityCreated
		m.commitments[p.Principal] = append(m.commitments[p.Principal], p.Commitment)
	case ev.OrgRootUpdated != nil:
		p := ev.OrgRootUpdated
		if p.Timestamp < m.orgStamp[p.OrgID] {
			return false, nil
		}
		m.orgStamp[p.OrgID] = p.Timestamp
		m.orgs[p.OrgID] = OrgRecord{OrgID: p.OrgID, Root: p.Root, UpdatedBy: p.UpdatedBy, UpdatedAt: millis(p.Timestamp)}
	case ev.ProofVerified != nil:
		p := ev.ProofVerified
		key := memberKey{principal: p.Principal, orgID: p.OrgID}
		mem, ok := m.members[key]
		if !ok {
			mem = &memMembership{files: map[uint32]int64{}}
			m.members[key] = mem
		}
		changed := false
		if at, seen := mem.files[p.FileID]; !seen || p.Timestamp >= at {
			mem.files[p.FileID] = p.Timestamp
			changed = true
		}
		if p.Timestamp >= mem.at {
			mem.at, mem.fileID = p.Timestamp, p.FileID
			changed = true
		}
		return changed, nil
	}
	return true, nil
}

func (m *MemoryStore) Commitments(_ context.Context, principal string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.commitments[principal]...), nil
}

func (m *MemoryStore) Org(_ context.Context, orgID uint32) (*OrgRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orgs[orgID]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (m *MemoryStore) Memberships(_ context.Context, principal string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Membership{}
	for key, mem := range m.members {
		if key.principal != principal {
			continue
		}
		out = append(out, Membership{
			OrgID:      key.orgID,
			FileID:     mem.fileID,
			VerifiedAt: millis(mem.at),
			Files:      sortedFiles(mem.files),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}

func (m *MemoryStore) LatestVerification(_ context.Context, principal string, orgID uint32) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberKey{principal: principal, orgID: orgID}]
	if !ok {
		return time.Time{}, false, nil
	}
	return millis(mem.at), true, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortedFiles(files map[uint32]int64) []FileVerification {
	out := make([]FileVerification, 0, len(files))
	for id, at := range files {
		out = append(out, FileVerification{FileID: id, VerifiedAt: millis(at)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}
