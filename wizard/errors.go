package wizard

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy of a build session.
type Class string

const (
	// AnalysisFailure: analysis service unreachable or verdict unparseable. Fatal.
	AnalysisFailure Class = "analysis_failure"
	// GenerationFailure: generation service unreachable or no usable artifact.
	GenerationFailure Class = "generation_failure"
	// ContractViolation: artifact broke the extractor contract.
	ContractViolation Class = "contract_violation"
	// ExecutionFailure: artifact ran and failed.
	ExecutionFailure Class = "execution_failure"
	// QualityFailure: artifact ran but returned too many empty fields.
	QualityFailure Class = "quality_failure"
	// EnvironmentFailure: browser, network, or missing human. Fatal.
	EnvironmentFailure Class = "environment_failure"
)

// Error is a classified failure raised by the controller. The session it
// came from stays resumable from Phase.
type Error struct {
	Class Class
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wizard: %s in %s: %v", e.Class, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(class Class, phase Phase, err error) error {
	return &Error{Class: class, Phase: phase, Err: err}
}

// ClassOf returns the class of err, or "" if it is not a wizard error.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func IsAnalysisFailure(err error) bool    { return ClassOf(err) == AnalysisFailure }
func IsGenerationFailure(err error) bool  { return ClassOf(err) == GenerationFailure }
func IsContractViolation(err error) bool  { return ClassOf(err) == ContractViolation }
func IsExecutionFailure(err error) bool   { return ClassOf(err) == ExecutionFailure }
func IsQualityFailure(err error) bool     { return ClassOf(err) == QualityFailure }
func IsEnvironmentFailure(err error) bool { return ClassOf(err) == EnvironmentFailure }
