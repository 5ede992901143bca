package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/trigdb/internal/manifest"
	"github.com/roach88/trigdb/internal/trigger"
)

// LoadError is a manifest loading failure with a CLI error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the source line of the error, or 0.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadManifest checks dir and compiles the manifest in it. Every failure is
// a *LoadError.
func LoadManifest(dir string) (*manifest.Manifest, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	m, err := manifest.Load(dir)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return m, nil
}

// convertCompileError converts a manifest error to a LoadError with
// position info.
func convertCompileError(err error) *LoadError {
	var ce *manifest.CompileError
	if errors.As(err, &ce) {
		return &LoadError{
			Code:    MapCompileErrorToCode(ce),
			Message: ce.Field + ": " + ce.Message,
			Pos:     ce.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// Error code constants, shared by every command.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeJournal     = "E006" // Journal open or query failed
	ErrCodeWriteFailed = "E007" // File write error

	// Manifest errors
	ErrCodeSchema          = "E200" // Value does not match the manifest schema
	ErrCodeInvalidSchedule = "E201" // Cron expression does not parse
	ErrCodeUnknownField    = "E202" // Field outside the schema
	ErrCodeInvalidName     = "E203" // Name unusable in a dotted path
	ErrCodeInvalidParam    = "E204" // Parameter value of unsupported kind
)

// MapCompileErrorToCode picks the error code for a manifest compile error.
func MapCompileErrorToCode(ce *manifest.CompileError) string {
	switch {
	case strings.HasPrefix(ce.Message, string(trigger.CodeInvalidSchedule)):
		return ErrCodeInvalidSchedule
	case strings.HasPrefix(ce.Message, "unknown field"):
		return ErrCodeUnknownField
	case strings.HasPrefix(ce.Message, "invalid name"):
		return ErrCodeInvalidName
	case strings.HasPrefix(ce.Message, string(trigger.CodeParameterTypeMismatch)),
		strings.Contains(ce.Field, ".params."):
		return ErrCodeInvalidParam
	default:
		return ErrCodeSchema
	}
}
