// Package derr defines the error taxonomy shared by the simulation engine.
// Three kinds exist: validation errors (bad caller input), simulation errors
// (market-state preconditions) and calculation errors (arithmetic
// preconditions). All are locally recoverable; an error always means "reject
// this action before constructing calldata", never "retry identical inputs".
package derr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a machine-readable error code.
type Code string

// Validation codes.
const (
	CodeZeroSize              Code = "zero_size"
	CodeMisalignedTick        Code = "misaligned_tick"
	CodeTickOutOfRange        Code = "tick_out_of_range"
	CodeBadLeverage           Code = "bad_leverage"
	CodeBelowMinValue         Code = "below_min_value"
	CodeInsufficientMargin    Code = "insufficient_margin"
	CodeInsufficientAllowance Code = "insufficient_allowance"
	CodeOrderExists           Code = "order_exists"
	CodeInvalidKey            Code = "invalid_key"
	CodeBadAlpha              Code = "bad_alpha"
)

// Simulation codes.
const (
	CodeNotTradable      Code = "not_tradable"
	CodeWrongCondition   Code = "wrong_condition"
	CodePlacementPaused  Code = "placement_paused"
	CodePriceDeviated    Code = "price_deviated"
	CodeMissingQuotation Code = "missing_quotation"
)

// Calculation codes.
const (
	CodeZeroDenominator Code = "zero_denominator"
	CodeNegativeShift   Code = "negative_shift"
	CodeShiftOverflow   Code = "shift_overflow"
	CodeDegenerateBoost Code = "degenerate_boost"
	CodeSqrtOfNegative  Code = "sqrt_of_negative"
)

// ValidationError reports bad caller input: zero or negative size, a
// misaligned or out-of-range tick, non-positive leverage, a value below a
// minimum threshold, or insufficient margin/allowance.
type ValidationError struct {
	Code    Code
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return "validation: " + string(e.Code) + formatDetails(e.Details)
}

// SimulationError reports a violated market-state precondition: untradable
// instrument, wrong condition or status, paused placement, or missing data.
type SimulationError struct {
	Code    Code
	Details map[string]any
}

func (e *SimulationError) Error() string {
	return "simulation: " + string(e.Code) + formatDetails(e.Details)
}

// CalculationError reports a violated arithmetic precondition: a zero
// denominator, an out-of-range shift, or a degenerate boost input.
type CalculationError struct {
	Code    Code
	Details map[string]any
}

func (e *CalculationError) Error() string {
	return "calculation: " + string(e.Code) + formatDetails(e.Details)
}

// NewValidationError builds a ValidationError with the given code and details.
func NewValidationError(code Code, details map[string]any) error {
	return &ValidationError{Code: code, Details: details}
}

// NewSimulationError builds a SimulationError with the given code and details.
func NewSimulationError(code Code, details map[string]any) error {
	return &SimulationError{Code: code, Details: details}
}

// NewCalculationError builds a CalculationError with the given code and details.
func NewCalculationError(code Code, details map[string]any) error {
	return &CalculationError{Code: code, Details: details}
}

// CodeOf extracts the machine-readable code from any engine error, or "" when
// err does not belong to the taxonomy.
func CodeOf(err error) Code {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var se *SimulationError
	if errors.As(err, &se) {
		return se.Code
	}
	var ce *CalculationError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSimulation reports whether err is a SimulationError.
func IsSimulation(err error) bool {
	var se *SimulationError
	return errors.As(err, &se)
}

// IsCalculation reports whether err is a CalculationError.
func IsCalculation(err error) bool {
	var ce *CalculationError
	return errors.As(err, &ce)
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return " (" + strings.Join(parts, " ") + ")"
}
