package model

import "time"

// CauseStatus values as moderated by admins.
const (
	CauseStatusPending  = "pending"
	CauseStatusApproved = "approved"
	CauseStatusRejected = "rejected"
)

// Cause is a fundraising campaign. CurrentAmount only grows, and only through completed donations.
type Cause struct {
	ID            string    `json:"id"`
	FundraiserID  string    `json:"fundraiserId"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	GoalAmount    int64     `json:"goalAmount"`
	CurrentAmount int64     `json:"currentAmount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Approved reports whether the cause accepts donations.
func (c *Cause) Approved() bool {
	return c.Status == CauseStatusApproved
}
