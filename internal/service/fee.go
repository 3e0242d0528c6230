package service

import "math"

const (
	// MinDonationAmount is the smallest gross amount accepted, in whole currency units.
	MinDonationAmount int64 = 100
	// PlatformFeePercent is the share of each donation kept by the platform.
	PlatformFeePercent int64 = 5
)

// FeeBreakdown splits a gross amount. GrossAmount == PlatformFee + NetAmount always holds.
type FeeBreakdown struct {
	GrossAmount int64 `json:"totalAmount"`
	PlatformFee int64 `json:"platformFee"`
	NetAmount   int64 `json:"netAmount"`
}

// ComputeFee returns the platform fee (5%, rounded half up) and the net amount
// credited to the cause. Amounts below MinDonationAmount are a validation error.
func ComputeFee(gross int64) (FeeBreakdown, error) {
	if gross < MinDonationAmount {
		return FeeBreakdown{}, validationError("minimum donation amount is %d", MinDonationAmount)
	}
	if gross > math.MaxInt64/PlatformFeePercent {
		return FeeBreakdown{}, validationError("donation amount too large")
	}
	fee := (gross*PlatformFeePercent + 50) / 100
	return FeeBreakdown{GrossAmount: gross, PlatformFee: fee, NetAmount: gross - fee}, nil
}
