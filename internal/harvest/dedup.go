package harvest

import (
	"cmp"
	"slices"
)

// DedupAccounts sorts accounts by key and keeps the first of each key run.
// Ties are ordered by external id, parent and name so the surviving record
// does not depend on fan-out completion order.
func DedupAccounts(in []*Account) []*Account {
	slices.SortStableFunc(in, func(a, b *Account) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.ExternalID, b.ExternalID),
			cmp.Compare(a.ParentExternalID, b.ParentExternalID),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return slices.CompactFunc(in, func(a, b *Account) bool { return a.Key == b.Key })
}

// DedupUsers is DedupAccounts for users.
func DedupUsers(in []*User) []*User {
	slices.SortStableFunc(in, func(a, b *User) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.ExternalID, b.ExternalID),
			cmp.Compare(a.OwnerExternalID, b.OwnerExternalID),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return slices.CompactFunc(in, func(a, b *User) bool { return a.Key == b.Key })
}
