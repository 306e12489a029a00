// Package herrors defines the engine's typed error kinds (spec §7). Every
// failure domain — ingress, dispatch, execution, VFS, gateway — produces one
// of these instead of an ad-hoc error string, so the gateway can project a
// status code and the dispatcher can decide retry/drop behavior by kind.
package herrors

import (
	"fmt"
	"net/http"
)

// Code identifies a failure domain/kind pair.
type Code string

const (
	// Ingress
	CodeQueueFull     Code = "QUEUE_FULL"
	CodeBadPackage    Code = "BAD_PACKAGE"
	CodeUnknownApp    Code = "UNKNOWN_APP"
	CodeAuthRejected  Code = "AUTH_REJECTED"

	// Dispatch
	CodeNoSubscribers   Code = "NO_SUBSCRIBERS"
	CodeParentUnresolved Code = "PARENT_UNRESOLVED"
	CodeStreamCongested Code = "STREAM_CONGESTED"

	// Execution
	CodeModuleTrap      Code = "MODULE_TRAP"
	CodeDeadlineExceeded Code = "DEADLINE_EXCEEDED"
	CodeCancelled       Code = "CANCELLED"
	CodeMemoryLimit     Code = "MEMORY_LIMIT"
	CodeHostCallFailed  Code = "HOST_CALL_FAILED"

	// VFS
	CodePathNotFound     Code = "PATH_NOT_FOUND"
	CodeReadOnly         Code = "READ_ONLY"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeStoreIO          Code = "STORE_IO"

	// Gateway
	CodeNoRoute        Code = "NO_ROUTE"
	CodeAuthRequired   Code = "AUTH_REQUIRED"
	CodeUpstreamTimeout Code = "UPSTREAM_TIMEOUT"
	CodeBadReply       Code = "BAD_REPLY"
)

// EngineError is the engine's structured error type. HTTPStatus is only
// meaningful for errors that can reach the gateway's wire response.
type EngineError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func new_(code Code, msg string, status int) *EngineError {
	return &EngineError{Code: code, Message: msg, HTTPStatus: status}
}

func wrap(code Code, msg string, status int, cause error) *EngineError {
	return &EngineError{Code: code, Message: msg, HTTPStatus: status, Cause: cause}
}

// Ingress

func QueueFull(sourceTag string) *EngineError {
	return new_(CodeQueueFull, fmt.Sprintf("event queue full for source %q", sourceTag), http.StatusServiceUnavailable)
}

func BadPackage(cause error) *EngineError {
	return wrap(CodeBadPackage, "package could not be opened", http.StatusBadRequest, cause)
}

func UnknownApp(name string) *EngineError {
	return new_(CodeUnknownApp, fmt.Sprintf("unknown application %q", name), http.StatusNotFound)
}

func AuthRejected(reason string) *EngineError {
	return new_(CodeAuthRejected, reason, http.StatusUnauthorized)
}

// Dispatch

func NoSubscribers(sourceTag string) *EngineError {
	return new_(CodeNoSubscribers, fmt.Sprintf("no subscribers for %q", sourceTag), 0)
}

func ParentUnresolved(ref string) *EngineError {
	return new_(CodeParentUnresolved, fmt.Sprintf("parent event %q not yet resolved", ref), 0)
}

func StreamCongested(stream string) *EngineError {
	return new_(CodeStreamCongested, fmt.Sprintf("stream %q exceeded its rate/depth budget", stream), 0)
}

// Execution

func ModuleTrap(cause error) *EngineError {
	return wrap(CodeModuleTrap, "module call trapped", 0, cause)
}

func DeadlineExceeded() *EngineError {
	return new_(CodeDeadlineExceeded, "module call exceeded its deadline", http.StatusGatewayTimeout)
}

func Cancelled() *EngineError {
	return new_(CodeCancelled, "module call was cancelled", 0)
}

func MemoryLimit() *EngineError {
	return new_(CodeMemoryLimit, "module exceeded its memory/table limit", 0)
}

func HostCallFailed(cause error) *EngineError {
	return wrap(CodeHostCallFailed, "host call failed", 0, cause)
}

// VFS

func PathNotFound(path string) *EngineError {
	return new_(CodePathNotFound, fmt.Sprintf("path not found: %s", path), http.StatusNotFound)
}

func ReadOnly(path string) *EngineError {
	return new_(CodeReadOnly, fmt.Sprintf("path is read-only: %s", path), http.StatusForbidden)
}

func PermissionDenied(path string) *EngineError {
	return new_(CodePermissionDenied, fmt.Sprintf("permission denied: %s", path), http.StatusForbidden)
}

func StoreIO(cause error) *EngineError {
	return wrap(CodeStoreIO, "content store I/O error", http.StatusInternalServerError, cause)
}

// Gateway

func NoRoute(host string) *EngineError {
	return new_(CodeNoRoute, fmt.Sprintf("no application routes host %q", host), http.StatusNotFound)
}

func AuthRequired(reason string) *EngineError {
	return new_(CodeAuthRequired, reason, http.StatusUnauthorized)
}

func UpstreamTimeout() *EngineError {
	return new_(CodeUpstreamTimeout, "module did not reply before the deadline", http.StatusGatewayTimeout)
}

func BadReply(cause error) *EngineError {
	return wrap(CodeBadReply, "module reply could not be serialized", http.StatusBadGateway, cause)
}

// As reports whether err is an *EngineError and returns it.
func As(err error) (*EngineError, bool) {
	ee, ok := err.(*EngineError)
	return ee, ok
}
