// Package catalog keeps the off-ledger organization metadata and file catalog: display names,
// pre-approved principals, join requests and the files each organization offers to its members.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("orgregistry.catalog")

const (
	maxNameLength        = 128
	maxDescriptionLength = 2048
	maxLocationLength    = 1024
	maxPreApproved       = 1024
)

var (
	ErrUnknownOrg  = errors.New("organization is not in the catalog")
	ErrUnknownFile = errors.New("file is not in the catalog")
	ErrNotApproved = errors.New("principal is not pre-approved for this organization")
	ErrInvalid     = errors.New("invalid catalog entry")
)

// Org is the display metadata of an organization. An empty PreApproved list means anyone may
// see and join it.
type Org struct {
	OrgID       uint32   `json:"orgId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PreApproved []string `json:"preApproved,omitempty"`
}

// File is a catalog entry; Location tells the storage layer where the content lives.
type File struct {
	OrgID    uint32 `json:"orgId"`
	FileID   uint32 `json:"fileId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

// Store persists the catalog. Join is idempotent and keeps first-join order.
type Store interface {
	PutOrg(ctx context.Context, org Org) error
	Org(ctx context.Context, orgID uint32) (*Org, bool, error)
	Orgs(ctx context.Context) ([]Org, error)
	Join(ctx context.Context, orgID uint32, principal string) (bool, error)
	Members(ctx context.Context, orgID uint32) ([]string, error)
	PutFile(ctx context.Context, file File) error
	File(ctx context.Context, orgID, fileID uint32) (*File, bool, error)
	Files(ctx context.Context, orgID uint32) ([]File, error)
	Close() error
}

// Admins resolves the principal allowed to manage an organization.
type Admins interface {
	OrgAdmin(ctx context.Context, orgID uint32) (string, bool, error)
}

// Validate trims and checks org in place.
func (o *Org) Validate() error {
	o.Name = strings.TrimSpace(o.Name)
	o.Description = strings.TrimSpace(o.Description)
	switch {
	case o.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case len(o.Name) > maxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	case len(o.Description) > maxDescriptionLength:
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalid, maxDescriptionLength)
	case len(o.PreApproved) > maxPreApproved:
		return fmt.Errorf("%w: more than %d pre-approved principals", ErrInvalid, maxPreApproved)
	}
	seen := make(map[string]struct{}, len(o.PreApproved))
	approved := o.PreApproved[:0]
	for _, p := range o.PreApproved {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("%w: empty pre-approved principal", ErrInvalid)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		approved = append(approved, p)
	}
	o.PreApproved = approved
	return nil
}

// VisibleTo reports whether principal may see and join o. Restricted organizations are hidden
// from anonymous callers.
func (o *Org) VisibleTo(principal string) bool {
	if len(o.PreApproved) == 0 {
		return true
	}
	for _, p := range o.PreApproved {
		if p == principal {
			return true
		}
	}
	return false
}

func (f *File) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	switch {
	case f.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case len(f.Name) > maxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	case f.Size < 0:
		return fmt.Errorf("%w: size must not be negative", ErrInvalid)
	case len(f.Location) > maxLocationLength:
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalid, maxLocationLength)
	}
	return nil
}

// Visible filters orgs down to those principal may see.
func Visible(orgs []Org, principal string) []Org {
	out := make([]Org, 0, len(orgs))
	for i := range orgs {
		if orgs[i].VisibleTo(principal) {
			out = append(out, orgs[i])
		}
	}
	return out
}

func sortOrgs(orgs []Org) {
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].OrgID < orgs[j].OrgID })
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].FileID < files[j].FileID })
}
