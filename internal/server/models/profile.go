package models

import (
	"fmt"
	"time"
)

// Profile owns a fixed pool of pre-generated media ids.
//
// AllocatedMediaIDs is generated once at profile creation and never changes;
// it is the total address space of media slots the profile will ever have.
// ActiveMediaIDs is the user-ordered subsequence currently bound to uploaded
// media.
type Profile struct {
	ID     string
	UserID string

	AllocatedMediaIDs []string
	ActiveMediaIDs    []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAllocated reports whether mediaID belongs to the profile's slot pool.
func (p *Profile) HasAllocated(mediaID string) bool {
	for _, id := range p.AllocatedMediaIDs {
		if id == mediaID {
			return true
		}
	}
	return false
}

// IsActive reports whether mediaID is currently in the active set.
func (p *Profile) IsActive(mediaID string) bool {
	for _, id := range p.ActiveMediaIDs {
		if id == mediaID {
			return true
		}
	}
	return false
}

// Validate checks the pool invariants: no duplicates in either sequence and
// every active id allocated.
func (p *Profile) Validate() error {
	seen := make(map[string]struct{}, len(p.AllocatedMediaIDs))
	for _, id := range p.AllocatedMediaIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate allocated media id %q", id)
		}
		seen[id] = struct{}{}
	}

	active := make(map[string]struct{}, len(p.ActiveMediaIDs))
	for _, id := range p.ActiveMediaIDs {
		if _, dup := active[id]; dup {
			return fmt.Errorf("duplicate active media id %q", id)
		}
		active[id] = struct{}{}
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("active media id %q is not allocated", id)
		}
	}

	return nil
}

// IsPermutationOfActive reports whether order contains exactly the ids of
// ActiveMediaIDs, in any order, with no extras, omissions or duplicates.
func (p *Profile) IsPermutationOfActive(order []string) bool {
	if len(order) != len(p.ActiveMediaIDs) {
		return false
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		if !p.IsActive(id) {
			return false
		}
	}
	return true
}
