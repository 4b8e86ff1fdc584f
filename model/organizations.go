package model

import "time"

// Organization is the ledger record behind an allocated organization id.
type Organization struct {
	ObjectType    string    `json:"objectType"`
	OrgID         uint32    `json:"orgId"`
	Admin         string    `json:"admin"`   // Principal allowed to publish roots
	Root          string    `json:"root"`    // Hex-encoded Merkle root; empty until first published
	HasRoot       bool      `json:"hasRoot"` // False until UpdateOrgRoot succeeds once
	CreatedAt     time.Time `json:"createdAt"`
	RootUpdatedAt time.Time `json:"rootUpdatedAt"`
}

// OrgCounter is the persisted state of the organization id allocator.
type OrgCounter struct {
	ObjectType string `json:"objectType"`
	Next       uint32 `json:"next"`
}

// OrgRootView is the answer to GetOrgRoot; HasRoot is false when no root was ever published.
type OrgRootView struct {
	OrgID   uint32 `json:"orgId"`
	HasRoot bool   `json:"hasRoot"`
	Root    string `json:"root"`
}

// PaginatedOrganizationResponse is used for paginated organization listings.
// Organization ids are dense, so the next page starts at NextOffset.
type PaginatedOrganizationResponse struct {
	Organizations []*Organization `json:"organizations"`
	NextOffset    uint32          `json:"nextOffset"`
	Total         uint32          `json:"total"` // Number of organizations allocated so far
	FetchedCount  int32           `json:"fetchedCount"`
}
