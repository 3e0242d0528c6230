package service

import (
	"context"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/repository"
)

// Listing limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// DonorDonations is a donor's history plus their lifetime total.
type DonorDonations struct {
	Donations      []*model.Donation `json:"donations"`
	TotalDonations int64             `json:"totalDonations"`
}

// DonationService serves read-only donation listings.
type DonationService interface {
	// ListMine returns the donor's own donations, newest first.
	ListMine(ctx context.Context, donorID string, limit, offset int) (*DonorDonations, error)
	// ListForCause returns completed donations to a cause with anonymous donors hidden.
	ListForCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error)
}

type donationService struct {
	ledger repository.LedgerRepository
	causes repository.CauseRepository
	donors repository.DonorRepository
}

// NewDonationService creates a DonationService.
func NewDonationService(ledger repository.LedgerRepository, causes repository.CauseRepository, donors repository.DonorRepository) DonationService {
	return &donationService{ledger: ledger, causes: causes, donors: donors}
}

// ClampPage applies the listing defaults and bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *donationService) ListMine(ctx context.Context, donorID string, limit, offset int) (*DonorDonations, error) {
	limit, offset = ClampPage(limit, offset)
	donor, err := s.donors.FindByID(ctx, donorID)
	if err != nil {
		return nil, storeError("donor "+donorID, err)
	}
	list, err := s.ledger.ListByDonor(ctx, donorID, limit, offset)
	if err != nil {
		return nil, storeError("list donations", err)
	}
	return &DonorDonations{Donations: list, TotalDonations: donor.TotalDonations}, nil
}

func (s *donationService) ListForCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error) {
	limit, offset = ClampPage(limit, offset)
	if _, err := s.causes.FindByID(ctx, causeID); err != nil {
		return nil, storeError("cause "+causeID, err)
	}
	list, err := s.ledger.ListCompletedByCause(ctx, causeID, limit, offset)
	if err != nil {
		return nil, storeError("list donations", err)
	}
	out := make([]*model.Donation, len(list))
	for i, d := range list {
		out[i] = d.Anonymized()
	}
	return out, nil
}
