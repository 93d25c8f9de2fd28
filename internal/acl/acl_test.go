package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EntryStore: user documents map to account
// indexes, group documents map to member sets.
type memStore struct {
	entries  map[int64][]Entry
	userDocs map[int64]int64
	groups   map[int64]map[int64]bool
}

func (m *memStore) AclEntries(_ context.Context, aclID int64) ([]Entry, error) {
	return m.entries[aclID], nil
}

func (m *memStore) UserDocIdx(_ context.Context, userDocID int64) (int64, bool, error) {
	idx, ok := m.userDocs[userDocID]
	return idx, ok, nil
}

func (m *memStore) IsGroupMember(_ context.Context, groupDocID, userIdx int64) (bool, error) {
	return m.groups[groupDocID][userIdx], nil
}

func TestRudString(t *testing.T) {
	require.Equal(t, "RUD", Full.String())
	require.Equal(t, "---", None.String())
	require.Equal(t, "R-D", (MaskRead | MaskDelete).String())
}

func TestResolveNilACLIsUnrestricted(t *testing.T) {
	ev := NewEvaluator(&memStore{})
	for _, idx := range []int64{Anonymous, 1, 42} {
		mask, err := ev.Resolve(context.Background(), nil, idx)
		require.NoError(t, err)
		require.Equal(t, Full, mask)
	}
}

func TestResolveAnonymousGetsNothing(t *testing.T) {
	aclID := int64(10)
	st := &memStore{entries: map[int64][]Entry{
		aclID: {{TargetT: "group", TargetID: 20, Mask: Full, Allow: true}},
	}}
	mask, err := NewEvaluator(st).Resolve(context.Background(), &aclID, Anonymous)
	require.NoError(t, err)
	require.Equal(t, None, mask)
}

func TestResolveEmptyACLDeniesAll(t *testing.T) {
	aclID := int64(10)
	st := &memStore{entries: map[int64][]Entry{}}
	mask, err := NewEvaluator(st).Resolve(context.Background(), &aclID, 7)
	require.NoError(t, err)
	require.Equal(t, None, mask)
}

func TestResolveSequentialOverride(t *testing.T) {
	const (
		aclID      = int64(10)
		groupDocID = int64(20)
		userDocID  = int64(30)
		userIdx    = int64(7)
	)
	st := &memStore{
		userDocs: map[int64]int64{userDocID: userIdx},
		groups:   map[int64]map[int64]bool{groupDocID: {userIdx: true}},
	}
	ev := NewEvaluator(st)

	allowGroup := Entry{TargetT: "group", TargetID: groupDocID, Mask: MaskRead | MaskUpdate, Allow: true}
	denyUser := Entry{TargetT: "user", TargetID: userDocID, Mask: MaskUpdate, Allow: false}

	// allow then deny: the later deny strips Update
	st.entries = map[int64][]Entry{aclID: {allowGroup, denyUser}}
	id := aclID
	mask, err := ev.Resolve(context.Background(), &id, userIdx)
	require.NoError(t, err)
	require.Equal(t, MaskRead, mask)

	// deny then allow: the later allow wins back Update
	st.entries = map[int64][]Entry{aclID: {denyUser, allowGroup}}
	mask, err = ev.Resolve(context.Background(), &id, userIdx)
	require.NoError(t, err)
	require.Equal(t, MaskRead|MaskUpdate, mask)
}

func TestResolveNonMatchingEntriesSkipped(t *testing.T) {
	const aclID = int64(10)
	st := &memStore{
		entries: map[int64][]Entry{aclID: {
			{TargetT: "user", TargetID: 30, Mask: Full, Allow: true},
			{TargetT: "group", TargetID: 20, Mask: Full, Allow: true},
		}},
		userDocs: map[int64]int64{30: 99}, // someone else
		groups:   map[int64]map[int64]bool{20: {}},
	}
	id := int64(aclID)
	mask, err := NewEvaluator(st).Resolve(context.Background(), &id, 7)
	require.NoError(t, err)
	require.Equal(t, None, mask)
}

func TestResolveOrphanedTargetNeverApplies(t *testing.T) {
	const aclID = int64(10)
	// target user document was deleted: UserDocIdx reports not-found
	st := &memStore{
		entries: map[int64][]Entry{aclID: {
			{TargetT: "user", TargetID: 30, Mask: Full, Allow: true},
		}},
	}
	id := int64(aclID)
	mask, err := NewEvaluator(st).Resolve(context.Background(), &id, 7)
	require.NoError(t, err)
	require.Equal(t, None, mask)
}
