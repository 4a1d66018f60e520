package api

import (
	"context"
	"time"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

var _ harvest.Source = (*Client)(nil)

type ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type accountItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
	Owner *ref   `json:"owner"`
}

type userItem struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Mobile        *string    `json:"mobile"`
	Timezone      *string    `json:"timezone"`
	Language      *string    `json:"language"`
	State         *string    `json:"state"`
	Owner         *ref       `json:"owner"`
	DefaultClient *ref       `json:"defaultClient"`
	CostCentre    *ref       `json:"costCentre"`
	ModifiedDate  *time.Time `json:"modifiedDate"`
}

type passwordPolicy struct {
	MinLength   *int64 `json:"minLength"`
	ExpiryDays  *int64 `json:"expiryDays"`
	History     *int64 `json:"history"`
	MFARequired *bool  `json:"mfaRequired"`
}

type accountDetail struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	State          string          `json:"state"`
	PasswordPolicy *passwordPolicy `json:"passwordPolicy"`
}

type otpMethod struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type userDetail struct {
	ID  string      `json:"id"`
	OTP []otpMethod `json:"otp"`
}

func listPath(kind harvest.Kind) string {
	return "accounts/" + string(kind)
}

// ListAccounts implements harvest.Source.
func (c *Client) ListAccounts(ctx context.Context, kind harvest.Kind, owner string, opts harvest.ListOptions) ([]*harvest.Account, error) {
	page := Page{Path: listPath(kind), Owner: owner, Sort: "name"}
	res, err := FetchAll[accountItem](ctx, c, page, opts.PageLimit, opts.MaxResults)

	accounts := make([]*harvest.Account, 0, len(res.Items))
	for _, it := range res.Items {
		if it.ID == "" {
			continue
		}
		parent := owner
		if parent == "" && kind != harvest.KindDistributors && it.Owner != nil {
			parent = it.Owner.ID
		}
		a := harvest.NewAccount(kind, it.ID, parent)
		a.Name = it.Name
		a.Type = it.Type
		a.State = it.State
		accounts = append(accounts, a)
	}
	return accounts, err
}

// ListUsers implements harvest.Source.
func (c *Client) ListUsers(ctx context.Context, owner string, opts harvest.ListOptions) ([]*harvest.User, error) {
	page := Page{Path: listPath(harvest.KindUsers), Owner: owner, Sort: "id"}
	res, err := FetchAll[userItem](ctx, c, page, opts.PageLimit, opts.MaxResults)

	users := make([]*harvest.User, 0, len(res.Items))
	for _, it := range res.Items {
		if it.ID == "" {
			continue
		}
		ownerID := owner
		if it.Owner != nil && it.Owner.ID != "" {
			ownerID = it.Owner.ID
		}
		u := harvest.NewUser(it.ID, ownerID)
		u.Name = it.Name
		u.Email = it.Email
		u.Mobile = it.Mobile
		u.Timezone = it.Timezone
		u.Language = it.Language
		u.State = it.State
		if it.Owner != nil {
			u.OwnerName = it.Owner.Name
			u.OwnerType = it.Owner.Type
		}
		if it.DefaultClient != nil {
			u.DefaultClientID = it.DefaultClient.ID
			u.DefaultClientName = it.DefaultClient.Name
		}
		if it.CostCentre != nil {
			u.CostCentreID = &it.CostCentre.ID
			u.CostCentreName = &it.CostCentre.Name
		}
		if it.ModifiedDate != nil {
			m := it.ModifiedDate.UTC()
			u.ModifiedAt = &m
		}
		users = append(users, u)
	}
	return users, err
}

// AccountDetail implements harvest.Source.
func (c *Client) AccountDetail(ctx context.Context, kind harvest.Kind, externalID string) (*harvest.AccountDetail, error) {
	var d accountDetail
	if err := c.Get(ctx, listPath(kind)+"/"+externalID, nil, &d); err != nil {
		return nil, err
	}

	detail := &harvest.AccountDetail{Name: d.Name, Type: d.Type, State: d.State}
	if p := d.PasswordPolicy; p != nil {
		detail.Policy = &harvest.PasswordPolicy{
			MinLength:   p.MinLength,
			ExpiryDays:  p.ExpiryDays,
			History:     p.History,
			MFARequired: p.MFARequired,
		}
	}
	return detail, nil
}

// UserDetail implements harvest.Source.
func (c *Client) UserDetail(ctx context.Context, externalID string) (*harvest.UserDetail, error) {
	var d userDetail
	if err := c.Get(ctx, listPath(harvest.KindUsers)+"/"+externalID, nil, &d); err != nil {
		return nil, err
	}

	detail := &harvest.UserDetail{OTP: make([]harvest.OTPMethod, 0, len(d.OTP))}
	for _, m := range d.OTP {
		detail.OTP = append(detail.OTP, harvest.OTPMethod{Type: m.Type, Enabled: m.Enabled})
	}
	return detail, nil
}
