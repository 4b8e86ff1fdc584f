package catalog

import (
	"context"
	"fmt"
	"sync"
)

type fileKey struct {
	orgID  uint32
	fileID uint32
}

// MemoryStore keeps the catalog in process.
type MemoryStore struct {
	mu      sync.RWMutex
	orgs    map[uint32]Org
	members map[uint32][]string
	joined  map[uint32]map[string]struct{}
	files   map[fileKey]File
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:    map[uint32]Org{},
		members: map[uint32][]string{},
		joined:  map[uint32]map[string]struct{}{},
		files:   map[fileKey]File{},
	}
}

func (m *MemoryStore) PutOrg(ctx context.Context, org Org) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	org.PreApproved = append([]string(nil), org.PreApproved...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.OrgID] = org
	return nil
}

func (m *MemoryStore) Org(ctx context.Context, orgID uint32) (*Org, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return nil, false, nil
	}
	org.PreApproved = append([]string(nil), org.PreApproved...)
	return &org, true, nil
}

func (m *MemoryStore) Orgs(ctx context.Context) ([]Org, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Org, 0, len(m.orgs))
	for _, org := range m.orgs {
		org.PreApproved = append([]string(nil), org.PreApproved...)
		out = append(out, org)
	}
	sortOrgs(out)
	return out, nil
}

func (m *MemoryStore) Join(ctx context.Context, orgID uint32, principal string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[orgID]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownOrg, orgID)
	}
	set, ok := m.joined[orgID]
	if !ok {
		set = map[string]struct{}{}
		m.joined[orgID] = set
	}
	if _, dup := set[principal]; dup {
		return false, nil
	}
	set[principal] = struct{}{}
	m.members[orgID] = append(m.members[orgID], principal)
	return true, nil
}

func (m *MemoryStore) Members(ctx context.Context, orgID uint32) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.members[orgID]...), nil
}

func (m *MemoryStore) PutFile(ctx context.Context, file File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileKey{file.OrgID, file.FileID}] = file
	return nil
}

func (m *MemoryStore) File(ctx context.Context, orgID, fileID uint32) (*File, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileKey{orgID, fileID}]
	if !ok {
		return nil, false, nil
	}
	return &f, true, nil
}

func (m *MemoryStore) Files(ctx context.Context, orgID uint32) ([]File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []File{}
	for k, f := range m.files {
		if k.orgID == orgID {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
