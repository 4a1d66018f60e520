package harvest

import (
	"slices"
	"strings"
	"time"
)

// Kind names one of the four harvested collections. The value doubles as the
// API path segment and the store table name.
type Kind string

const (
	KindDistributors Kind = "distributors"
	KindVendors      Kind = "vendors"
	KindClients      Kind = "clients"
	KindUsers        Kind = "users"
)

// AccountKinds are the organisational tiers, in harvest order.
var AccountKinds = []Kind{KindDistributors, KindVendors, KindClients}

// Parent returns the tier that owns k, or "" for distributors and users.
func (k Kind) Parent() Kind {
	switch k {
	case KindVendors:
		return KindDistributors
	case KindClients:
		return KindVendors
	default:
		return ""
	}
}

// SentinelRefreshedAt is stamped on freshly inserted rows so that the next
// refresh pass picks them up regardless of the report date.
var SentinelRefreshedAt = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// PasswordPolicy is the optional passwordPolicy block of an account detail.
// Nil fields were not reported by the API.
type PasswordPolicy struct {
	MinLength   *int64
	ExpiryDays  *int64
	History     *int64
	MFARequired *bool
}

// Account is a cached distributor, vendor or client.
type Account struct {
	Key              int64
	ExternalID       string
	Kind             Kind
	ParentKey        *int64 // nil for distributors
	ParentExternalID string
	Name             string
	Type             string
	State            string

	StatsStatus string
	FirstSeenAt time.Time
	RefreshedAt time.Time
	RefreshPass string

	Policy PasswordPolicy
}

// NewAccount builds an account summary with its derived keys filled in.
func NewAccount(kind Kind, externalID, parentExternalID string) *Account {
	a := &Account{
		Key:              KeyFor(externalID),
		ExternalID:       externalID,
		Kind:             kind,
		ParentExternalID: parentExternalID,
	}
	if parentExternalID != "" {
		pk := KeyFor(parentExternalID)
		a.ParentKey = &pk
	}
	return a
}

// AccountDetail is the subset of GET /accounts/{kind}/{id} the refresher keeps.
type AccountDetail struct {
	Name   string
	Type   string
	State  string
	Policy *PasswordPolicy
}

// ApplyDetail copies refreshed detail fields onto a and marks it successful.
func (a *Account) ApplyDetail(d *AccountDetail, now time.Time) {
	if d.Name != "" {
		a.Name = d.Name
	}
	if d.Type != "" {
		a.Type = d.Type
	}
	if d.State != "" {
		a.State = d.State
	}
	if d.Policy != nil {
		a.Policy = *d.Policy
	} else {
		a.Policy = PasswordPolicy{}
	}
	a.StatsStatus = StatusSuccess
	a.RefreshedAt = now
}

// User is a cached user. Owner fields reference whichever tier listed the
// user (distributor, vendor or client).
type User struct {
	Key        int64
	ExternalID string
	Name       string
	Email      string
	Mobile     *string
	Timezone   *string
	Language   *string
	State      *string

	OwnerKey          int64
	OwnerExternalID   string
	OwnerName         string
	OwnerType         string
	DefaultClientID   string
	DefaultClientName string
	CostCentreID      *string
	CostCentreName    *string
	ModifiedAt        *time.Time

	StatsStatus string
	FirstSeenAt time.Time
	RefreshedAt time.Time
	RefreshPass string

	OTPEnabled *bool
	OTPMethods *string
}

// NewUser builds a user summary with its derived keys filled in.
func NewUser(externalID, ownerExternalID string) *User {
	return &User{
		Key:             KeyFor(externalID),
		ExternalID:      externalID,
		OwnerKey:        KeyFor(ownerExternalID),
		OwnerExternalID: ownerExternalID,
	}
}

// OTPMethod is one entry of a user detail's otp array.
type OTPMethod struct {
	Type    string
	Enabled bool
}

// UserDetail is the subset of GET /accounts/users/{id} the refresher keeps.
type UserDetail struct {
	OTP []OTPMethod
}

// ApplyDetail stamps the OTP enrolment summary onto u and marks it successful.
func (u *User) ApplyDetail(d *UserDetail, now time.Time) {
	var methods []string
	for _, m := range d.OTP {
		if m.Enabled && m.Type != "" {
			methods = append(methods, strings.ToLower(m.Type))
		}
	}
	slices.Sort(methods)
	methods = slices.Compact(methods)

	enabled := len(methods) > 0
	joined := strings.Join(methods, ",")
	u.OTPEnabled = &enabled
	u.OTPMethods = &joined
	u.StatsStatus = StatusSuccess
	u.RefreshedAt = now
}
