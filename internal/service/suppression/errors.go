package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound            = errors.New("suppression entry not found")
	ErrListNotFound        = errors.New("list not found")
	ErrInvalidList         = errors.New("list name is required")
	ErrSuppressedEmail     = errors.New("email is unsubscribed")
	ErrDuplicateSubscriber = errors.New("subscriber already on list")
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrInvalidToken        = errors.New("invalid unsubscribe token")
	ErrNoSigner            = errors.New("unsubscribe token signer not configured")
)
