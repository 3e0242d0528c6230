package service

import (
	"errors"
	"fmt"

	"github.com/goodeedhub/backend/internal/repository"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// Error kinds returned by the services. Callers match them with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden is returned when a user tries to act on another user's resource.
	ErrForbidden = errors.New("forbidden")
	ErrSignature = errors.New("signature verification failed")
	ErrGateway   = errors.New("payment gateway error")

	// ErrPaymentNotCompleted means the gateway has not (yet) reported the payment as successful.
	ErrPaymentNotCompleted = fmt.Errorf("%w: payment not completed", ErrInvalidState)
	// ErrCauseNotApproved is returned for donations to a cause that is not accepting them.
	ErrCauseNotApproved = fmt.Errorf("%w: cannot donate to unapproved cause", ErrInvalidState)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError converts repository sentinels into service kinds.
func storeError(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// gatewayError converts gateway adapter failures into service kinds.
func gatewayError(op string, err error) error {
	switch {
	case errors.Is(err, pkgstripe.ErrSignature):
		return fmt.Errorf("%w: %w", ErrSignature, err)
	case errors.Is(err, pkgstripe.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrGateway, op, err)
	}
}
