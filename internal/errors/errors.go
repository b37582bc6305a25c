package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Typed errors for the document analysis worker
 *
 * Every failure leaving the pipeline is an *AnalysisError carrying the
 * failing stage and a code. Callers branch with errors.Is against the
 * sentinel kinds or read the code with CodeOf.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrorExternalServiceFailed ErrorCode = "EXTERNAL_SERVICE_FAILED"
	ErrorTemplateFailed        ErrorCode = "TEMPLATE_FAILED"
	ErrorPipelineFailed        ErrorCode = "PIPELINE_FAILED"
	ErrorProcessingTimeout     ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Sentinel kinds matched by (*AnalysisError).Is.
var (
	ErrValidation      = stderrors.New("validation error")
	ErrExternalService = stderrors.New("external service error")
	ErrTemplate        = stderrors.New("template error")
	ErrPipeline        = stderrors.New("pipeline error")
	ErrTimeout         = stderrors.New("processing timeout")
	ErrStorage         = stderrors.New("storage error")
)

var kindByCode = map[ErrorCode]error{
	ErrorValidationFailed:      ErrValidation,
	ErrorExternalServiceFailed: ErrExternalService,
	ErrorTemplateFailed:        ErrTemplate,
	ErrorPipelineFailed:        ErrPipeline,
	ErrorProcessingTimeout:     ErrTimeout,
	ErrorStorageFailed:         ErrStorage,
}

// AnalysisError represents a structured analysis failure
type AnalysisError struct {
	Code       ErrorCode
	Stage      string
	Message    string
	DocumentID string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *AnalysisError) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel kind of this error's code.
func (e *AnalysisError) Is(target error) bool {
	kind, ok := kindByCode[e.Code]
	return ok && kind == target
}

// WithDocument stamps the document ID and returns the same error.
func (e *AnalysisError) WithDocument(documentID string) *AnalysisError {
	e.DocumentID = documentID
	return e
}

// Factory functions for common errors

func NewValidationError(stage string, message string) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorValidationFailed,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewExternalServiceError(stage string, service string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorExternalServiceFailed,
		Stage:     stage,
		Message:   fmt.Sprintf("%s call failed", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service": service,
		},
		Cause: cause,
	}
}

func NewTemplateError(stage string, message string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorTemplateFailed,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPipelineError(stage string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:      ErrorPipelineFailed,
		Stage:     stage,
		Message:   fmt.Sprintf("pipeline failed at stage %s", stage),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewProcessingTimeoutError inherits the stage of the interrupted work from cause
func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *AnalysisError {
	return &AnalysisError{
		Code:       ErrorProcessingTimeout,
		Stage:      StageOf(cause),
		Message:    fmt.Sprintf("Processing timed out after %v", duration),
		DocumentID: jobID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(documentID string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:       ErrorStorageFailed,
		Stage:      "persisting",
		Message:    "Failed to store analysis results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// CodeOf returns the code of the first AnalysisError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ae *AnalysisError
	if stderrors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// StageOf returns the first non-empty stage of the AnalysisErrors in err's chain.
func StageOf(err error) string {
	for err != nil {
		var ae *AnalysisError
		if !stderrors.As(err, &ae) {
			return ""
		}
		if ae.Stage != "" {
			return ae.Stage
		}
		err = ae.Cause
	}
	return ""
}

// ToMap converts error to map for database storage
func (e *AnalysisError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Stage != "" {
		result["stage"] = e.Stage
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// As is errors.As from the standard library.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
