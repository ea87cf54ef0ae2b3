package model

import (
	"errors"
	"fmt"
)

// Error taxonomy for core operations. Store functions wrap these with
// context; the API layer maps them to HTTP statuses with errors.Is.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidState        = errors.New("invalid state")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrQuantityExceeded    = errors.New("quantity exceeded")
	ErrWeatherUnsuitable   = errors.New("weather unsuitable")
)

// Refinements of ErrInvalidState. errors.Is(err, ErrInvalidState) matches
// all of them.
var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrInvalidState)
	ErrNotForSale        = fmt.Errorf("%w: not for sale", ErrInvalidState)
	ErrOfferExpired      = fmt.Errorf("%w: offer expired", ErrInvalidState)
)
