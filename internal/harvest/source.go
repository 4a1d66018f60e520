package harvest

import "context"

// ListOptions bounds one paginated listing.
type ListOptions struct {
	PageLimit  int // items requested per page
	MaxResults int // stop once this many items were accumulated
}

// Source is the upstream accounts API.
//
// List methods never discard progress: when err is non-nil the returned slice
// still holds every item accumulated before the failure.
type Source interface {
	// ListAccounts lists the accounts of kind owned by ownerExternalID.
	// An empty owner lists from the provider root.
	ListAccounts(ctx context.Context, kind Kind, ownerExternalID string, opts ListOptions) ([]*Account, error)

	// ListUsers lists the users owned by ownerExternalID.
	ListUsers(ctx context.Context, ownerExternalID string, opts ListOptions) ([]*User, error)

	// AccountDetail fetches the detail record of one account.
	AccountDetail(ctx context.Context, kind Kind, externalID string) (*AccountDetail, error)

	// UserDetail fetches the detail record of one user.
	UserDetail(ctx context.Context, externalID string) (*UserDetail, error)
}
