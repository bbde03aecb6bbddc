package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReservationReason classifies a recoverable assignment failure
type ReservationReason string

const (
	ReasonUnknownMachine        ReservationReason = "UNKNOWN_MACHINE"
	ReasonMachineBusy           ReservationReason = "MACHINE_BUSY"
	ReasonUnknownProcessingTime ReservationReason = "UNKNOWN_PROCESSING_TIME"
	ReasonUnknownMaterialsSpec  ReservationReason = "UNKNOWN_MATERIALS_SPEC"
	ReasonInsufficientMaterials ReservationReason = "INSUFFICIENT_MATERIALS"
	ReasonUnknownOrderID        ReservationReason = "UNKNOWN_ORDER_ID"
	ReasonInvalidQuantity       ReservationReason = "INVALID_QUANTITY"
)

var (
	ErrUnknownMachine        = errors.New("unknown machine")
	ErrMachineBusy           = errors.New("machine busy")
	ErrUnknownProcessingTime = errors.New("unknown processing time")
	ErrUnknownMaterialsSpec  = errors.New("unknown materials spec")
	ErrInsufficientMaterials = errors.New("insufficient materials")
	ErrUnknownOrderID        = errors.New("unknown order id")
	ErrInvalidQuantity       = errors.New("invalid quantity")
)

var reasonSentinels = map[ReservationReason]error{
	ReasonUnknownMachine:        ErrUnknownMachine,
	ReasonMachineBusy:           ErrMachineBusy,
	ReasonUnknownProcessingTime: ErrUnknownProcessingTime,
	ReasonUnknownMaterialsSpec:  ErrUnknownMaterialsSpec,
	ReasonInsufficientMaterials: ErrInsufficientMaterials,
	ReasonUnknownOrderID:        ErrUnknownOrderID,
	ReasonInvalidQuantity:       ErrInvalidQuantity,
}

// Shortfall describes one material the inventory cannot cover
type Shortfall struct {
	Material  string  `json:"material"`
	Required  float64 `json:"required"`
	Available float64 `json:"available"`
}

func (s Shortfall) String() string {
	return fmt.Sprintf("%s (required %s, available %s)", s.Material, FormatQuantity(s.Required), FormatQuantity(s.Available))
}

// ReservationError is returned for every recoverable assignment failure.
// State is never modified when one is returned.
type ReservationError struct {
	Reason     ReservationReason
	Message    string
	Shortfalls []Shortfall
}

func (e *ReservationError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel matching the reason so errors.Is works
func (e *ReservationError) Unwrap() error {
	return reasonSentinels[e.Reason]
}

// NewInsufficientMaterials builds the failure naming every short material
func NewInsufficientMaterials(shortfalls []Shortfall) *ReservationError {
	parts := make([]string, len(shortfalls))
	for i, s := range shortfalls {
		parts[i] = s.String()
	}
	return &ReservationError{
		Reason:     ReasonInsufficientMaterials,
		Message:    "Insufficient materials: " + strings.Join(parts, ", "),
		Shortfalls: shortfalls,
	}
}

// MachineBusyError is the failure for a reservation on a busy machine
func MachineBusyError(machine string) *ReservationError {
	return &ReservationError{
		Reason:  ReasonMachineBusy,
		Message: fmt.Sprintf("Machine %s is busy.", machine),
	}
}

// AsReservationError extracts a *ReservationError from err
func AsReservationError(err error) (*ReservationError, bool) {
	var rerr *ReservationError
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

// FormatQuantity renders a quantity without a trailing ".0" for whole values
func FormatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
