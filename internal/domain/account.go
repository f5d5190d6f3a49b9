package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusInUse        AccountStatus = "IN_USE"
	AccountStatusUnregistered AccountStatus = "UNREGISTERED"
)

// FirstAccountNumber is assigned when no account exists yet.
const FirstAccountNumber = "1000000000"

// DefaultMaxAccountsPerUser caps how many accounts a single user may hold.
// Closed accounts still count toward the cap.
const DefaultMaxAccountsPerUser = 10

// Account is the internal account record.
type Account struct {
	ID             int64         `json:"id"`
	AccountNumber  string        `json:"accountNumber"`
	Owner          AccountUser   `json:"owner"`
	Status         AccountStatus `json:"accountStatus"`
	Balance        int64         `json:"balance"`
	RegisteredAt   time.Time     `json:"registeredAt"`
	UnregisteredAt *time.Time    `json:"unregisteredAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// IsUnregistered reports whether the account has been closed.
func (a *Account) IsUnregistered() bool {
	return a.Status == AccountStatusUnregistered
}

// Unregister moves the account to its terminal state.
func (a *Account) Unregister(at time.Time) {
	a.Status = AccountStatusUnregistered
	a.UnregisteredAt = &at
	a.UpdatedAt = at
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (a *Account) Clone() *Account {
	c := *a
	if a.UnregisteredAt != nil {
		t := *a.UnregisteredAt
		c.UnregisteredAt = &t
	}
	return &c
}

// AccountView is the projection returned by create and delete.
type AccountView struct {
	UserID         int64      `json:"userId"`
	AccountNumber  string     `json:"accountNumber"`
	RegisteredAt   time.Time  `json:"registeredAt"`
	UnregisteredAt *time.Time `json:"unregisteredAt,omitempty"`
}

// NewAccountView projects an account into its API view.
func NewAccountView(a *Account) *AccountView {
	return &AccountView{
		UserID:         a.Owner.ID,
		AccountNumber:  a.AccountNumber,
		RegisteredAt:   a.RegisteredAt,
		UnregisteredAt: a.UnregisteredAt,
	}
}

// AccountSummary is one row of a user's account list.
type AccountSummary struct {
	AccountNumber string `json:"accountNumber"`
	Balance       int64  `json:"balance"`
}

// ============================================================
// Requests
// ============================================================

// CreateAccountRequest is the body of POST /v1/accounts.
type CreateAccountRequest struct {
	UserID         int64 `json:"userId"`
	InitialBalance int64 `json:"initialBalance"`
}

// DeleteAccountRequest is the body of DELETE /v1/accounts.
type DeleteAccountRequest struct {
	UserID        int64  `json:"userId"`
	AccountNumber string `json:"accountNumber"`
}
