// errors.go - Fehler-Taxonomie der Evaluierungs-Pipeline
// Enthaelt: Fehlerarten (Sentinels), Stage, Op-Namen und den Error-Typ, der
// Stage, Art und Compiler-Diagnose zusammenfuehrt.

package ml

import (
	"errors"
	"strings"
)

// Fehlerarten. Jeder *Error wrappt genau eine davon, sodass
// errors.Is(err, ErrCompilation) usw. funktioniert.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrPlatform         = errors.New("no compute platform")
	ErrResourceCreation = errors.New("resource creation failed")
	ErrCompilation      = errors.New("compilation failed")
	ErrArgumentBinding  = errors.New("argument binding failed")
	ErrDispatch         = errors.New("dispatch failed")
	ErrTransfer         = errors.New("transfer failed")
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageValidate Stage = "validate"
	StageLocate   Stage = "locate"
	StageCompile  Stage = "compile"
	StageUpload   Stage = "upload"
	StageDispatch Stage = "dispatch"
	StageDownload Stage = "download"
)

// Op names the specific failure within a kind.
const (
	OpInvalidMatrix      = "invalid matrix"
	OpInvalidConfig      = "invalid configuration"
	OpNoPlatform         = "no platform"
	OpNoDevice           = "no device"
	OpContextCreation    = "context creation"
	OpQueueCreation      = "queue creation"
	OpBufferCreation     = "buffer creation"
	OpSourceNotFound     = "source not found"
	OpBuildFailed        = "build failed"
	OpEntryPointNotFound = "entry point not found"
	OpArgumentBinding    = "argument binding"
	OpLaunch             = "launch"
	OpBarrier            = "barrier"
	OpUpload             = "upload"
	OpDownload           = "download"
	OpSizeMismatch       = "size mismatch"
	OpCanceled           = "canceled"
)

// Error is the structured error returned by every pipeline stage.
type Error struct {
	Stage Stage
	Kind  error
	Op    string
	Err   error

	// Diagnostic carries compiler output for compilation failures
	Diagnostic string
}

func NewError(stage Stage, kind error, op string, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Stage))
	sb.WriteString(": ")
	sb.WriteString(e.Op)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Diagnostic != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Diagnostic)
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Canceled reports a context error observed before stage started. It carries
// no kind; errors.Is matches the context error.
func Canceled(stage Stage, err error) *Error {
	return &Error{Stage: stage, Op: OpCanceled, Err: err}
}

// WithStage returns err annotated with stage when it is an *Error that has
// none yet; other errors are returned unchanged.
func WithStage(err error, stage Stage) error {
	var e *Error
	if errors.As(err, &e) && e.Stage == "" {
		e.Stage = stage
	}
	return err
}

// KindOf returns the error kind sentinel wrapped by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidInput,
		ErrPlatform,
		ErrResourceCreation,
		ErrCompilation,
		ErrArgumentBinding,
		ErrDispatch,
		ErrTransfer,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
