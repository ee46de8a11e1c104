// Package nserrors defines the error kinds raised by the nested sampling
// engine and a wrapping type that carries which kind and whether the error
// is fatal to the run.
package nserrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig covers invalid dimensions, nprocs-1 >= nlive, non-positive
	// nlive, and bad paths. Always fatal at startup.
	ErrConfig = errors.New("invalid sampler configuration")
	// ErrResumeCorruption means a checkpoint file is malformed. Fatal; the
	// user must delete the resume file or disable ReadResume.
	ErrResumeCorruption = errors.New("resume file is corrupt")
	// ErrStall means no valid seed could be generated this iteration.
	// Non-fatal; reported once per ndead transition.
	ErrStall = errors.New("no live point could be used as a seed")
	// ErrCallbackFailure means the user likelihood or prior signalled
	// failure. Propagated as logL = -Inf; the point is discarded from
	// promotion and never retried.
	ErrCallbackFailure = errors.New("user callback failed")
	// ErrIO covers checkpoint/posterior write failures. Logged; the run
	// continues and the next successful write supersedes it.
	ErrIO = errors.New("checkpoint or posterior I/O failed")
	// ErrPriorDomain means a prior block received out-of-range input.
	// Only reachable under data corruption of the hypercube coordinates.
	ErrPriorDomain = errors.New("hypercube coordinate out of domain")
)

// Kind classifies a SamplerError for programmatic handling.
type Kind int

const (
	KindConfig Kind = iota
	KindResumeCorruption
	KindStall
	KindCallbackFailure
	KindIO
	KindPriorDomain
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindResumeCorruption:
		return "resume_corruption"
	case KindStall:
		return "stall"
	case KindCallbackFailure:
		return "callback_failure"
	case KindIO:
		return "io"
	case KindPriorDomain:
		return "prior_domain"
	default:
		return "unknown"
	}
}

// SamplerError wraps a sentinel error with context and a fatality flag.
type SamplerError struct {
	Kind    Kind
	Err     error
	Message string
	Fatal   bool
}

func (e *SamplerError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *SamplerError) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, sentinel error, fatal bool, format string, args ...any) *SamplerError {
	return &SamplerError{
		Kind:    kind,
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Fatal:   fatal,
	}
}

// Config wraps ErrConfig; always fatal.
func Config(format string, args ...any) *SamplerError {
	return newErr(KindConfig, ErrConfig, true, format, args...)
}

// ResumeCorruption wraps ErrResumeCorruption; always fatal.
func ResumeCorruption(format string, args ...any) *SamplerError {
	return newErr(KindResumeCorruption, ErrResumeCorruption, true, format, args...)
}

// Stall wraps ErrStall; never fatal.
func Stall(format string, args ...any) *SamplerError {
	return newErr(KindStall, ErrStall, false, format, args...)
}

// CallbackFailure wraps ErrCallbackFailure; never fatal, point is discarded.
func CallbackFailure(format string, args ...any) *SamplerError {
	return newErr(KindCallbackFailure, ErrCallbackFailure, false, format, args...)
}

// IO wraps ErrIO; never fatal, logged and superseded by the next write.
func IO(format string, args ...any) *SamplerError {
	return newErr(KindIO, ErrIO, false, format, args...)
}

// PriorDomain wraps ErrPriorDomain; always fatal (data corruption).
func PriorDomain(format string, args ...any) *SamplerError {
	return newErr(KindPriorDomain, ErrPriorDomain, true, format, args...)
}

// IsFatal reports whether err (or any error it wraps) demands the run stop.
func IsFatal(err error) bool {
	var se *SamplerError
	if errors.As(err, &se) {
		return se.Fatal
	}
	return false
}
