package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier callers can branch on.
type ErrorCode string

const (
	ErrNotInstalled          ErrorCode = "NotInstalled"
	ErrIncompatibleVersion   ErrorCode = "IncompatibleVersion"
	ErrInsufficientDiskSpace ErrorCode = "InsufficientDiskSpace"
	ErrElevationRequired     ErrorCode = "ElevationRequired"
	ErrDownloadFailed        ErrorCode = "DownloadFailed"
	ErrIntegrityCheckFailed  ErrorCode = "IntegrityCheckFailed"
	ErrPlatformInstallFailed ErrorCode = "PlatformInstallFailed"
	ErrVerificationFailed    ErrorCode = "VerificationFailed"
	ErrProcessSpawnFailed    ErrorCode = "ProcessSpawnFailed"
	ErrProcessTimeout        ErrorCode = "ProcessTimeout"
	ErrCancelled             ErrorCode = "Cancelled"
	ErrUnknown               ErrorCode = "Unknown"
)

// ProvisionError carries an ErrorCode through error wrapping
type ProvisionError struct {
	Code    ErrorCode
	Tool    Tool   // may be empty for supervisor errors
	Op      string // e.g. "download", "install", "spawn"
	Message string
	Err     error
}

func (e *ProvisionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Tool != "" {
		return fmt.Sprintf("%s %s failed [%s]: %s", e.Tool, e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s failed [%s]: %s", e.Op, e.Code, msg)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// NewError creates a ProvisionError
func NewError(code ErrorCode, tool Tool, op string, err error, format string, args ...any) *ProvisionError {
	return &ProvisionError{
		Code:    code,
		Tool:    tool,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf returns the code of the first ProvisionError in err's chain
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrUnknown
}

// IsCode reports whether err carries code
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func NotInstalledError(tool Tool, format string, args ...any) *ProvisionError {
	return NewError(ErrNotInstalled, tool, "detect", nil, format, args...)
}

func IncompatibleVersionError(tool Tool, format string, args ...any) *ProvisionError {
	return NewError(ErrIncompatibleVersion, tool, "compatibility check", nil, format, args...)
}

func DiskSpaceError(tool Tool, required, available int64) *ProvisionError {
	return NewError(ErrInsufficientDiskSpace, tool, "preflight", nil,
		"%d bytes required, %d bytes available", required, available)
}

func ElevationError(tool Tool, format string, args ...any) *ProvisionError {
	return NewError(ErrElevationRequired, tool, "preflight", nil, format, args...)
}

func DownloadError(tool Tool, err error) *ProvisionError {
	return NewError(ErrDownloadFailed, tool, "download", err, "")
}

func IntegrityError(tool Tool, format string, args ...any) *ProvisionError {
	return NewError(ErrIntegrityCheckFailed, tool, "integrity check", nil, format, args...)
}

func InstallError(tool Tool, err error) *ProvisionError {
	return NewError(ErrPlatformInstallFailed, tool, "install", err, "")
}

func VerifyError(tool Tool, err error) *ProvisionError {
	return NewError(ErrVerificationFailed, tool, "verify", err, "")
}

func SpawnError(command string, err error, format string, args ...any) *ProvisionError {
	return NewError(ErrProcessSpawnFailed, "", "spawn "+command, err, format, args...)
}

func TimeoutError(command string, format string, args ...any) *ProvisionError {
	return NewError(ErrProcessTimeout, "", command, nil, format, args...)
}

func CancelledError(tool Tool, op string) *ProvisionError {
	return NewError(ErrCancelled, tool, op, nil, "cancelled")
}
