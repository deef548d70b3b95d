package ssvi

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrConvergence        = errors.New("calibration did not converge")
	ErrDegenerateSurface  = errors.New("degenerate surface")
	ErrCalibrationInvalid = errors.New("calibration violates no-arbitrage conditions")
)

// InsufficientDataError is returned when a slice has too few observations.
type InsufficientDataError struct {
	Tau  float64
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for slice tau=%.6f: have %d observations, need %d", e.Tau, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// ConvergenceError accompanies a degraded result: the parameters returned
// with it are the best found, not a converged optimum.
type ConvergenceError struct {
	Tau       float64
	RMSE      float64
	Tolerance float64
	Converged bool // solver status, independent of the residual check
}

func (e *ConvergenceError) Error() string {
	if e.Tau > 0 {
		return fmt.Sprintf("slice tau=%.6f did not converge: rmse %.6g, tolerance %.6g", e.Tau, e.RMSE, e.Tolerance)
	}
	return fmt.Sprintf("term structure did not converge: rmse %.6g, tolerance %.6g", e.RMSE, e.Tolerance)
}

func (e *ConvergenceError) Unwrap() error { return ErrConvergence }

// DegenerateSurfaceError is returned when the term structure has fewer than
// two expiries to fit.
type DegenerateSurfaceError struct {
	Expiries int
}

func (e *DegenerateSurfaceError) Error() string {
	return fmt.Sprintf("term structure needs at least 2 expiries, got %d", e.Expiries)
}

func (e *DegenerateSurfaceError) Unwrap() error { return ErrDegenerateSurface }

// CalibrationInvalidError carries the guard diagnostic that rejected a fit.
type CalibrationInvalidError struct {
	Diagnostic Diagnostic
}

func (e *CalibrationInvalidError) Error() string {
	return "calibration rejected by arbitrage guard: " + e.Diagnostic.String()
}

func (e *CalibrationInvalidError) Unwrap() error { return ErrCalibrationInvalid }

// IsDegraded reports whether err only marks a degraded, still usable result.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrConvergence)
}
