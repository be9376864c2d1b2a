package httpsepreload

import (
	"errors"
	"fmt"
)

// Build error kinds. Every fatal build error matches exactly one of these with
// errors.Is.
var (
	ErrAuthentication = errors.New("authentication failure")
	ErrSchema         = errors.New("schema violation")
	ErrPersist        = errors.New("persist failure")
	ErrSource         = errors.New("source failure")
	ErrConfig         = errors.New("configuration failure")
)

// ErrStoreExists is returned (wrapped in a persist failure) when the
// destination store is already present.
var ErrStoreExists = errors.New("store already exists")

// Build stages, used to label errors and logs.
const (
	StageConfig       = "config"
	StageSource       = "source"
	StageAuthenticate = "authenticate"
	StageDecode       = "decode"
	StageNormalize    = "normalize"
	StageIndex        = "index"
	StagePersist      = "persist"
)

// BuildError is a fatal error from one stage of a build.
type BuildError struct {
	Stage  string
	Kind   error
	Record string // offending ruleset, by name or as "#<ordinal>"
	Err    error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Record != "" {
		msg += fmt.Sprintf(" in ruleset %q", e.Record)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is matches the error kind as well as anything in the wrapped chain.
func (e *BuildError) Is(target error) bool {
	return target == e.Kind
}

func schemaError(stage, record string, err error) *BuildError {
	return &BuildError{Stage: stage, Kind: ErrSchema, Record: record, Err: err}
}

func persistError(err error) *BuildError {
	return &BuildError{Stage: StagePersist, Kind: ErrPersist, Err: err}
}

func recordLabel(name string, ordinal int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("#%d", ordinal)
}
