// Package resultcode defines the result codes surfaced by backup and restore
// runs, and an error type that carries one of them through the call chain.
package resultcode

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Code is the discriminant returned to callers. The numeric value doubles as
// the process exit status.
type Code int

const (
	Success Code = iota
	GeneralError
	FileNotFound
	FileOpenError
	FileReadError
	FileWriteError
	CompressionError
	MemoryError
	ChecksumError
	Interrupted
	InvalidParams
	ConfigError
)

var codeToString = map[Code]string{
	Success:          "success",
	GeneralError:     "general_error",
	FileNotFound:     "file_not_found",
	FileOpenError:    "file_open_error",
	FileReadError:    "file_read_error",
	FileWriteError:   "file_write_error",
	CompressionError: "compression_error",
	MemoryError:      "memory_error",
	ChecksumError:    "checksum_error",
	Interrupted:      "interrupted",
	InvalidParams:    "invalid_params",
	ConfigError:      "config_error",
}

var stringToCode map[string]Code

func init() {
	stringToCode = util.InvertMap(codeToString)
}

func (c Code) String() string {
	if str, ok := codeToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_result_code(%d)", int(c))
}

// ParseCode parses the string form of a Code.
func ParseCode(s string) (Code, error) {
	if c, ok := stringToCode[s]; ok {
		return c, nil
	}
	return GeneralError, fmt.Errorf("invalid result code: %q", s)
}

// ExitCode returns the process exit status for c.
func (c Code) ExitCode() int {
	return int(c)
}

// MarshalJSON implements the json.Marshaler interface for Code.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Code.
func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("result code should be a string, got %s", data)
	}
	code, err := ParseCode(s)
	if err != nil {
		return err
	}
	*c = code
	return nil
}

// Error ties a Code to the operation and path that produced it.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with a stack trace attached.
func New(code Code, op, path string, err error) error {
	return errors.WithStackDepth(&Error{Code: code, Op: op, Path: path, Err: err}, 1)
}

// Newf is New with a formatted cause.
func Newf(code Code, op, path, format string, args ...any) error {
	return errors.WithStackDepth(&Error{Code: code, Op: op, Path: path, Err: errors.Newf(format, args...)}, 1)
}

// CodeOf extracts the Code carried by err. A nil error is Success, a cancelled
// or expired context is Interrupted and any other untyped error is GeneralError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var rc *Error
	if errors.As(err, &rc) {
		return rc.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Interrupted
	}
	return GeneralError
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// First remembers the first non-nil error recorded. It is safe for concurrent use.
type First struct {
	mu  sync.Mutex
	err error
}

// Record stores err if it is the first non-nil error seen.
func (f *First) Record(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

// Err returns the first recorded error, or nil.
func (f *First) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
