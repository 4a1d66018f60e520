package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// FakeSource is a scripted harvest.Source. Listings are keyed by kind and
// owner external id; detail responses come from the optional funcs and
// default to an empty successful detail. Safe for concurrent use.
type FakeSource struct {
	mu       sync.Mutex
	accounts map[string][]*harvest.Account
	users    map[string][]*harvest.User
	failures map[string]error
	calls    map[string]int

	AccountDetailFunc func(ctx context.Context, kind harvest.Kind, externalID string) (*harvest.AccountDetail, error)
	UserDetailFunc    func(ctx context.Context, externalID string) (*harvest.UserDetail, error)
}

func NewFakeSource() *FakeSource {
	return &FakeSource{
		accounts: make(map[string][]*harvest.Account),
		users:    make(map[string][]*harvest.User),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func listingKey(kind harvest.Kind, owner string) string {
	return string(kind) + "/" + owner
}

// AddAccounts scripts the accounts of kind listed under owner.
func (f *FakeSource) AddAccounts(kind harvest.Kind, owner string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := listingKey(kind, owner)
	for _, id := range ids {
		a := harvest.NewAccount(kind, id, owner)
		a.Name = "Account " + id
		f.accounts[k] = append(f.accounts[k], a)
	}
}

// AddUsers scripts the users listed under owner.
func (f *FakeSource) AddUsers(owner string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := listingKey(harvest.KindUsers, owner)
	for _, id := range ids {
		u := harvest.NewUser(id, owner)
		u.Name = "User " + id
		u.Email = id + "@example.com"
		f.users[k] = append(f.users[k], u)
	}
}

// FailListing makes the listing of kind under owner return err together with
// whatever was scripted for it.
func (f *FakeSource) FailListing(kind harvest.Kind, owner string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[listingKey(kind, owner)] = err
}

// Calls returns how often the listing of kind under owner was requested.
func (f *FakeSource) Calls(kind harvest.Kind, owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[listingKey(kind, owner)]
}

// DetailCalls returns how often the detail of externalID was requested.
func (f *FakeSource) DetailCalls(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["detail/"+externalID]
}

func (f *FakeSource) ListAccounts(ctx context.Context, kind harvest.Kind, owner string, opts harvest.ListOptions) ([]*harvest.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := listingKey(kind, owner)
	f.calls[k]++

	var out []*harvest.Account
	for _, a := range f.accounts[k] {
		if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
			break
		}
		c := *a
		out = append(out, &c)
	}
	return out, f.failures[k]
}

func (f *FakeSource) ListUsers(ctx context.Context, owner string, opts harvest.ListOptions) ([]*harvest.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := listingKey(harvest.KindUsers, owner)
	f.calls[k]++

	var out []*harvest.User
	for _, u := range f.users[k] {
		if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
			break
		}
		c := *u
		out = append(out, &c)
	}
	return out, f.failures[k]
}

func (f *FakeSource) AccountDetail(ctx context.Context, kind harvest.Kind, externalID string) (*harvest.AccountDetail, error) {
	f.countDetail(externalID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.AccountDetailFunc != nil {
		return f.AccountDetailFunc(ctx, kind, externalID)
	}
	return &harvest.AccountDetail{Name: fmt.Sprintf("Account %s", externalID)}, nil
}

func (f *FakeSource) UserDetail(ctx context.Context, externalID string) (*harvest.UserDetail, error) {
	f.countDetail(externalID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.UserDetailFunc != nil {
		return f.UserDetailFunc(ctx, externalID)
	}
	return &harvest.UserDetail{}, nil
}

func (f *FakeSource) countDetail(externalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["detail/"+externalID]++
}

var _ harvest.Source = (*FakeSource)(nil)
