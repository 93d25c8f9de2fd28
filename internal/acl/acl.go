// Package acl resolves effective read/update/delete permissions for a
// requesting account against a document's access-control list.
package acl

import (
	"context"
	"fmt"
)

// Rud is the 3-bit permission mask: Read=4, Update=2, Delete=1.
type Rud uint8

const (
	MaskRead   Rud = 0b100
	MaskUpdate Rud = 0b010
	MaskDelete Rud = 0b001

	// Full is the mask for documents without an ACL.
	Full Rud = 0b111
	// None is the mask for anonymous requests against any ACL.
	None Rud = 0b000
)

func (m Rud) Read() bool   { return m&MaskRead != 0 }
func (m Rud) Update() bool { return m&MaskUpdate != 0 }
func (m Rud) Delete() bool { return m&MaskDelete != 0 }

// String renders the mask in "RUD" form, e.g. "R-D".
func (m Rud) String() string {
	b := []byte{'-', '-', '-'}
	if m.Read() {
		b[0] = 'R'
	}
	if m.Update() {
		b[1] = 'U'
	}
	if m.Delete() {
		b[2] = 'D'
	}
	return string(b)
}

// Anonymous is the identity of an unauthenticated request. Account indexes
// start at 1, so 0 never matches a real account.
const Anonymous int64 = 0

// Entry is one ordered ACL rule. TargetID is the document id of a user or
// group document, not an account index.
type Entry struct {
	TargetT  string // "user" or "group"
	TargetID int64
	Mask     Rud
	Allow    bool
}

// EntryStore supplies the store reads the evaluator needs. All three are
// plain current-state lookups; no transactional consistency is required.
type EntryStore interface {
	// AclEntries returns the entries of an ACL document ordered by insertion.
	AclEntries(ctx context.Context, aclID int64) ([]Entry, error)
	// UserDocIdx returns the account index a user document represents, or
	// false when the document no longer exists.
	UserDocIdx(ctx context.Context, userDocID int64) (int64, bool, error)
	// IsGroupMember reports whether an account is currently a member of a
	// group document.
	IsGroupMember(ctx context.Context, groupDocID, userIdx int64) (bool, error)
}

type Evaluator struct {
	store EntryStore
}

func NewEvaluator(store EntryStore) *Evaluator {
	return &Evaluator{store: store}
}

// Resolve computes the effective mask for an account against an ACL.
//
// A nil aclID means the document is unrestricted: full permission for
// everyone, anonymous included. With an ACL attached, anonymous requests get
// nothing, and named requests start from an empty mask with entries applied
// strictly in order: an applicable allow sets its bits, an applicable deny
// clears them. A later entry overrides an earlier one for overlapping bits.
// Entries whose target document no longer resolves simply never apply.
func (e *Evaluator) Resolve(ctx context.Context, aclID *int64, userIdx int64) (Rud, error) {
	if aclID == nil {
		return Full, nil
	}
	if userIdx == Anonymous {
		return None, nil
	}

	entries, err := e.store.AclEntries(ctx, *aclID)
	if err != nil {
		return None, fmt.Errorf("load acl entries: %w", err)
	}

	mask := None
	for _, entry := range entries {
		applies, err := e.applies(ctx, entry, userIdx)
		if err != nil {
			return None, err
		}
		if !applies {
			continue
		}
		if entry.Allow {
			mask |= entry.Mask
		} else {
			mask &^= entry.Mask
		}
	}
	return mask, nil
}

func (e *Evaluator) applies(ctx context.Context, entry Entry, userIdx int64) (bool, error) {
	switch entry.TargetT {
	case "user":
		idx, ok, err := e.store.UserDocIdx(ctx, entry.TargetID)
		if err != nil {
			return false, fmt.Errorf("resolve user target %d: %w", entry.TargetID, err)
		}
		return ok && idx == userIdx, nil
	case "group":
		member, err := e.store.IsGroupMember(ctx, entry.TargetID, userIdx)
		if err != nil {
			return false, fmt.Errorf("resolve group target %d: %w", entry.TargetID, err)
		}
		return member, nil
	default:
		return false, nil
	}
}
