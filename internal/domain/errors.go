package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAdmissionDenied     = errors.New("generation already in flight")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPendingInputFull    = errors.New("pending input queue is full")
	ErrPreflightRejected   = errors.New("model input requirements not met")
	ErrProviderFailure     = errors.New("provider failure")
	ErrEmptyResult         = errors.New("task completed without assets")
	ErrNoModelSelected     = errors.New("no model selected")
	ErrPromoNotFound       = errors.New("promo code not found")
	ErrPromoAlreadyUsed    = errors.New("promo code already used")
)
