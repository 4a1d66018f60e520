package database

import (
	"time"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// column pairs a column name with accessors on a record: value supplies the
// bind argument and dest the Scan destination.
type column[T any] struct {
	name  string
	value func(T) any
	dest  func(T) any
}

func field[T, V any](name string, ptr func(T) *V) column[T] {
	return column[T]{
		name:  name,
		value: func(r T) any { return *ptr(r) },
		dest:  func(r T) any { return ptr(r) },
	}
}

// timeField stores times in UTC so lexical comparisons in SQLite hold.
func timeField[T any](name string, ptr func(T) *time.Time) column[T] {
	return column[T]{
		name:  name,
		value: func(r T) any { return ptr(r).UTC() },
		dest:  func(r T) any { return ptr(r) },
	}
}

func optionalTimeField[T any](name string, ptr func(T) **time.Time) column[T] {
	return column[T]{
		name: name,
		value: func(r T) any {
			if t := *ptr(r); t != nil {
				return t.UTC()
			}
			return nil
		},
		dest: func(r T) any { return ptr(r) },
	}
}

// table describes one cached collection.
type table[T any] struct {
	name    string
	columns []column[T]
	newRow  func() T
	// normalize runs after Scan.
	normalize func(T)
}

func (t *table[T]) values(r T) []any {
	args := make([]any, len(t.columns))
	for i, c := range t.columns {
		args[i] = c.value(r)
	}
	return args
}

// updateValues returns the values of every column except key and
// first_seen_at, followed by the key.
func (t *table[T]) updateValues(r T) []any {
	var args []any
	var key any
	for _, c := range t.columns {
		switch c.name {
		case "key":
			key = c.value(r)
		case "first_seen_at":
		default:
			args = append(args, c.value(r))
		}
	}
	return append(args, key)
}

func (t *table[T]) scan(s scanner) (T, error) {
	r := t.newRow()
	dest := make([]any, len(t.columns))
	for i, c := range t.columns {
		dest[i] = c.dest(r)
	}
	if err := s.Scan(dest...); err != nil {
		var zero T
		return zero, err
	}
	if t.normalize != nil {
		t.normalize(r)
	}
	return r, nil
}

func accountTable(kind harvest.Kind) *table[*harvest.Account] {
	return &table[*harvest.Account]{
		name: string(kind),
		columns: []column[*harvest.Account]{
			field("key", func(a *harvest.Account) *int64 { return &a.Key }),
			field("external_id", func(a *harvest.Account) *string { return &a.ExternalID }),
			field("parent_key", func(a *harvest.Account) **int64 { return &a.ParentKey }),
			field("parent_external_id", func(a *harvest.Account) *string { return &a.ParentExternalID }),
			field("name", func(a *harvest.Account) *string { return &a.Name }),
			field("type", func(a *harvest.Account) *string { return &a.Type }),
			field("state", func(a *harvest.Account) *string { return &a.State }),
			field("stats_status", func(a *harvest.Account) *string { return &a.StatsStatus }),
			timeField("first_seen_at", func(a *harvest.Account) *time.Time { return &a.FirstSeenAt }),
			timeField("refreshed_at", func(a *harvest.Account) *time.Time { return &a.RefreshedAt }),
			field("refresh_pass", func(a *harvest.Account) *string { return &a.RefreshPass }),
			field("password_min_length", func(a *harvest.Account) **int64 { return &a.Policy.MinLength }),
			field("password_expiry_days", func(a *harvest.Account) **int64 { return &a.Policy.ExpiryDays }),
			field("password_history", func(a *harvest.Account) **int64 { return &a.Policy.History }),
			field("password_mfa_required", func(a *harvest.Account) **bool { return &a.Policy.MFARequired }),
		},
		newRow: func() *harvest.Account { return &harvest.Account{Kind: kind} },
		normalize: func(a *harvest.Account) {
			a.FirstSeenAt = a.FirstSeenAt.UTC()
			a.RefreshedAt = a.RefreshedAt.UTC()
		},
	}
}

var userTable = &table[*harvest.User]{
	name: string(harvest.KindUsers),
	columns: []column[*harvest.User]{
		field("key", func(u *harvest.User) *int64 { return &u.Key }),
		field("external_id", func(u *harvest.User) *string { return &u.ExternalID }),
		field("name", func(u *harvest.User) *string { return &u.Name }),
		field("email", func(u *harvest.User) *string { return &u.Email }),
		field("mobile", func(u *harvest.User) **string { return &u.Mobile }),
		field("timezone", func(u *harvest.User) **string { return &u.Timezone }),
		field("language", func(u *harvest.User) **string { return &u.Language }),
		field("state", func(u *harvest.User) **string { return &u.State }),
		field("owner_key", func(u *harvest.User) *int64 { return &u.OwnerKey }),
		field("owner_external_id", func(u *harvest.User) *string { return &u.OwnerExternalID }),
		field("owner_name", func(u *harvest.User) *string { return &u.OwnerName }),
		field("owner_type", func(u *harvest.User) *string { return &u.OwnerType }),
		field("default_client_id", func(u *harvest.User) *string { return &u.DefaultClientID }),
		field("default_client_name", func(u *harvest.User) *string { return &u.DefaultClientName }),
		field("cost_centre_id", func(u *harvest.User) **string { return &u.CostCentreID }),
		field("cost_centre_name", func(u *harvest.User) **string { return &u.CostCentreName }),
		optionalTimeField("modified_at", func(u *harvest.User) **time.Time { return &u.ModifiedAt }),
		field("stats_status", func(u *harvest.User) *string { return &u.StatsStatus }),
		timeField("first_seen_at", func(u *harvest.User) *time.Time { return &u.FirstSeenAt }),
		timeField("refreshed_at", func(u *harvest.User) *time.Time { return &u.RefreshedAt }),
		field("refresh_pass", func(u *harvest.User) *string { return &u.RefreshPass }),
		field("otp_enabled", func(u *harvest.User) **bool { return &u.OTPEnabled }),
		field("otp_methods", func(u *harvest.User) **string { return &u.OTPMethods }),
	},
	newRow: func() *harvest.User { return &harvest.User{} },
	normalize: func(u *harvest.User) {
		u.FirstSeenAt = u.FirstSeenAt.UTC()
		u.RefreshedAt = u.RefreshedAt.UTC()
		if u.ModifiedAt != nil {
			m := u.ModifiedAt.UTC()
			u.ModifiedAt = &m
		}
	},
}

var accountTables = map[harvest.Kind]*table[*harvest.Account]{
	harvest.KindDistributors: accountTable(harvest.KindDistributors),
	harvest.KindVendors:      accountTable(harvest.KindVendors),
	harvest.KindClients:      accountTable(harvest.KindClients),
}
