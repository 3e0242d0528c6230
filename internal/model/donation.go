package model

import (
	"errors"
	"time"
)

// DonationStatus is the ledger state of a donation.
type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
)

// MaxMessageLength is the longest donor message the ledger stores.
const MaxMessageLength = 500

var (
	// ErrAlreadyCompleted is returned by TryComplete when the donation was completed earlier.
	ErrAlreadyCompleted = errors.New("donation already completed")
	// ErrTerminalStatus is returned when a transition is attempted out of a terminal status.
	ErrTerminalStatus = errors.New("donation status is terminal")
)

// Valid reports whether s is one of the known statuses.
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationPending, DonationCompleted, DonationFailed:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is allowed.
func (s DonationStatus) Terminal() bool {
	return s == DonationCompleted || s == DonationFailed
}

// Donation is one ledger entry. TransactionID is the gateway payment intent id
// and is unique across the ledger.
type Donation struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transactionId"`
	DonorID       string         `json:"donorId,omitempty"`
	CauseID       string         `json:"causeId"`
	Amount        int64          `json:"amount"`
	PlatformFee   int64          `json:"platformFee"`
	TotalAmount   int64          `json:"totalAmount"`
	Status        DonationStatus `json:"status"`
	PaymentMethod string         `json:"paymentMethod"`
	Message       string         `json:"message,omitempty"`
	IsAnonymous   bool           `json:"isAnonymous"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TryComplete moves a pending donation to completed.
// A completed donation yields ErrAlreadyCompleted and a failed one ErrTerminalStatus;
// in both cases d is left untouched.
func (d *Donation) TryComplete(now time.Time) error {
	switch d.Status {
	case DonationCompleted:
		return ErrAlreadyCompleted
	case DonationFailed:
		return ErrTerminalStatus
	}
	d.Status = DonationCompleted
	d.UpdatedAt = now
	return nil
}

// TryFail moves a pending donation to failed.
func (d *Donation) TryFail(now time.Time) error {
	if d.Status.Terminal() {
		return ErrTerminalStatus
	}
	d.Status = DonationFailed
	d.UpdatedAt = now
	return nil
}

// Anonymized returns a copy safe for public listings.
func (d *Donation) Anonymized() *Donation {
	c := *d
	if c.IsAnonymous {
		c.DonorID = ""
	}
	return &c
}
