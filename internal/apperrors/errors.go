// Package apperrors provides the Conductor's standardized error kinds.
//
// Grounded on the teacher's internal/errors package: a single AppError type
// carrying a machine-readable Code, a human-readable Message, and optional
// Details, with constructors per error kind instead of sentinel errors, so
// callers can branch on Code without type-asserting a concrete struct from
// every package.
package apperrors

import "fmt"

// Error codes, matching spec.md §7 exactly.
const (
	CodeBoardNotFound                = "BOARD_NOT_FOUND"
	CodePluginNotFound                = "PLUGIN_NOT_FOUND"
	CodeServiceNotFound               = "SERVICE_NOT_FOUND"
	CodeWebserviceNotFound            = "WEBSERVICE_NOT_FOUND"
	CodePortNotFound                  = "PORT_NOT_FOUND"
	CodeFleetNotFound                 = "FLEET_NOT_FOUND"
	CodeRequestNotFound               = "REQUEST_NOT_FOUND"
	CodeResultNotFound                = "RESULT_NOT_FOUND"
	CodeInvalidIdentity               = "INVALID_IDENTITY"
	CodeDuplicateCode                 = "DUPLICATE_CODE"
	CodeDuplicateName                 = "DUPLICATE_NAME"
	CodeAlreadyExists                 = "ALREADY_EXISTS"
	CodeBoardNotConnected             = "BOARD_NOT_CONNECTED"
	CodeBoardInvalidStatus            = "BOARD_INVALID_STATUS"
	CodeNoRegistrationAgent           = "NO_REGISTRATION_AGENT"
	CodeNoAgents                      = "NO_AGENTS"
	CodeNotEnoughPortForService       = "NOT_ENOUGH_PORT_FOR_SERVICE"
	CodeServiceAlreadyExposed         = "SERVICE_ALREADY_EXPOSED"
	CodeEnabledWebserviceAlreadyExists = "ENABLED_WEBSERVICE_ALREADY_EXISTS"
	CodeDnsWebserviceAlreadyExists    = "DNS_WEBSERVICE_ALREADY_EXISTS"
	CodeEnabledWebserviceNotFound     = "ENABLED_WEBSERVICE_NOT_FOUND"
	CodeErrorExecutionOnBoard         = "ERROR_EXECUTION_ON_BOARD"
	CodeInvalidServiceAction          = "INVALID_SERVICE_ACTION"
	CodeInvalidBoardAction            = "INVALID_BOARD_ACTION"
	CodeInvalidPluginAction           = "INVALID_PLUGIN_ACTION"
	CodeBoardNameAlreadyExists        = "BOARD_NAME_ALREADY_EXISTS"
	CodeInternal                      = "INTERNAL_ERROR"
)

// AppError is the Conductor's standard error shape.
type AppError struct {
	Code    string
	Message string
	Details string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an AppError with the given code and message.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error as an AppError's Details.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &AppError{Code: code, Message: message, Details: details}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Code == code
}

func NotFound(kind, code, identity string) *AppError {
	return New(code, fmt.Sprintf("%s %s not found", kind, identity))
}

func DuplicateCode(kind string) *AppError {
	return New(CodeDuplicateCode, fmt.Sprintf("%s code already in use", kind))
}

func DuplicateName(kind string) *AppError {
	return New(CodeDuplicateName, fmt.Sprintf("%s name already in use", kind))
}

func AlreadyExists(kind string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", kind))
}

func BoardNotConnected(boardUUID string) *AppError {
	return New(CodeBoardNotConnected, fmt.Sprintf("board %s is not connected", boardUUID))
}

func BoardInvalidStatus(boardUUID string) *AppError {
	return New(CodeBoardInvalidStatus, fmt.Sprintf("board %s has no assigned agent", boardUUID))
}

func NoRegistrationAgent() *AppError {
	return New(CodeNoRegistrationAgent, "no online registration agent")
}

func NoAgents() *AppError {
	return New(CodeNoAgents, "no online agents available")
}

func NotEnoughPortForService() *AppError {
	return New(CodeNotEnoughPortForService, "no public ports available in the pool")
}

func ServiceAlreadyExposed(boardUUID, serviceUUID string) *AppError {
	return New(CodeServiceAlreadyExposed, fmt.Sprintf("service %s already exposed on board %s", serviceUUID, boardUUID))
}

func EnabledWebserviceAlreadyExists(boardUUID string) *AppError {
	return New(CodeEnabledWebserviceAlreadyExists, fmt.Sprintf("board %s already has an enabled webservice", boardUUID))
}

func DnsWebserviceAlreadyExists(dns string) *AppError {
	return New(CodeDnsWebserviceAlreadyExists, fmt.Sprintf("dns name %s is already in use", dns))
}

func EnabledWebserviceNotFound(boardUUID string) *AppError {
	return New(CodeEnabledWebserviceNotFound, fmt.Sprintf("board %s has no enabled webservice", boardUUID))
}

// ErrorExecutionOnBoard is raised whenever the dispatcher receives a
// terminal ERROR result from a device. Call/Board/Err are carried as
// structured Details rather than flattened into the message, per spec §7.
type ErrorExecutionOnBoard struct {
	Call  string
	Board string
	Err   string
}

func (e *ErrorExecutionOnBoard) Error() string {
	return fmt.Sprintf("%s: call %q on board %s failed: %s", CodeErrorExecutionOnBoard, e.Call, e.Board, e.Err)
}

func NewErrorExecutionOnBoard(call, board, errMsg string) *ErrorExecutionOnBoard {
	return &ErrorExecutionOnBoard{Call: call, Board: board, Err: errMsg}
}

func InvalidServiceAction(action string) *AppError {
	return New(CodeInvalidServiceAction, fmt.Sprintf("invalid service action %q", action))
}

func InvalidBoardAction(action string) *AppError {
	return New(CodeInvalidBoardAction, fmt.Sprintf("invalid board action %q", action))
}

func InvalidPluginAction(action string) *AppError {
	return New(CodeInvalidPluginAction, fmt.Sprintf("invalid plugin action %q", action))
}

func BoardNameAlreadyExists(name string) *AppError {
	return New(CodeBoardNameAlreadyExists, fmt.Sprintf("board name %q already exists", name))
}

func Internal(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

func InvalidIdentity(identity string) *AppError {
	return New(CodeInvalidIdentity, fmt.Sprintf("identity %q is neither an id nor a uuid", identity))
}
