package loyalty

import "errors"

var (
	// ErrInvalidInput rejects malformed amounts or identifiers before any state is touched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCustomerNotFound is returned for unknown customer ids.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerInactive is returned when a deactivated customer tries to earn or redeem.
	ErrCustomerInactive = errors.New("customer inactive")
	// ErrSubscriptionExists is returned when activating while a live subscription exists.
	ErrSubscriptionExists = errors.New("subscription already exists")
	// ErrNoSubscription is returned when a customer has no current subscription.
	ErrNoSubscription = errors.New("no subscription")
	// ErrTransientConflict is returned after optimistic updates kept colliding.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrNoPaymentGateway is returned by billing ticks when no gateway is wired.
	ErrNoPaymentGateway = errors.New("no payment gateway configured")
)
