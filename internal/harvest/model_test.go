package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	d := NewAccount(KindDistributors, "d-1", "")
	assert.Nil(t, d.ParentKey)
	assert.Equal(t, KeyFor("d-1"), d.Key)

	v := NewAccount(KindVendors, "v-1", "d-1")
	require.NotNil(t, v.ParentKey)
	assert.Equal(t, KeyFor("d-1"), *v.ParentKey)
	assert.Equal(t, KindDistributors, v.Kind.Parent())
}

func TestAccountApplyDetail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	minLen := int64(12)

	a := NewAccount(KindVendors, "v-1", "d-1")
	a.Name = "Old"
	a.Policy.History = &minLen
	a.ApplyDetail(&AccountDetail{State: "ACTIVE", Policy: &PasswordPolicy{MinLength: &minLen}}, now)

	assert.Equal(t, "Old", a.Name)
	assert.Equal(t, "ACTIVE", a.State)
	assert.Equal(t, StatusSuccess, a.StatsStatus)
	assert.Equal(t, now, a.RefreshedAt)
	require.NotNil(t, a.Policy.MinLength)
	assert.Equal(t, int64(12), *a.Policy.MinLength)
	assert.Nil(t, a.Policy.History)

	a.ApplyDetail(&AccountDetail{}, now)
	assert.Nil(t, a.Policy.MinLength)
}

func TestUserApplyDetail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		otp         []OTPMethod
		wantEnabled bool
		wantMethods string
	}{
		{name: "none", otp: nil, wantEnabled: false, wantMethods: ""},
		{name: "disabled only", otp: []OTPMethod{{Type: "SMS", Enabled: false}}, wantEnabled: false, wantMethods: ""},
		{
			name:        "sorted and unique",
			otp:         []OTPMethod{{Type: "TOTP", Enabled: true}, {Type: "sms", Enabled: true}, {Type: "Totp", Enabled: true}},
			wantEnabled: true,
			wantMethods: "sms,totp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUser("u-1", "c-1")
			u.ApplyDetail(&UserDetail{OTP: tt.otp}, now)
			require.NotNil(t, u.OTPEnabled)
			require.NotNil(t, u.OTPMethods)
			assert.Equal(t, tt.wantEnabled, *u.OTPEnabled)
			assert.Equal(t, tt.wantMethods, *u.OTPMethods)
			assert.Equal(t, StatusSuccess, u.StatsStatus)
		})
	}
}
