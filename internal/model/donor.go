package model

import "time"

// Donor is the donor profile of a user. TotalDonations sums the net amount of completed donations.
type Donor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	TotalDonations int64     `json:"totalDonations"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
