package raft

import "fmt"

// ErrorCode enumerates the error kinds a caller of the engine needs to be
// able to distinguish programmatically (§7). Message text alone isn't
// enough since e.g. NotLeader and LeadershipLost need different client
// retry behavior.
type ErrorCode int

// Error kinds exposed to users, per spec.md §7.
const (
	ErrNoMem ErrorCode = iota + 1
	ErrBadID
	ErrDuplicateID
	ErrDuplicateAddress
	ErrBadRole
	ErrMalformed
	ErrNotLeader
	ErrLeadershipLost
	ErrShutdown
	ErrCantBootstrap
	ErrCantChange
	ErrCorrupt
	ErrCanceled
	ErrNameTooLong
	ErrTooBig
	ErrNoConnection
	ErrBusy
	ErrIO
	ErrNotFound
	ErrInvalidParam
	ErrUnauthorized
	ErrNoSpace
	ErrTooMany
)

var codeNames = map[ErrorCode]string{
	ErrNoMem:            "no memory",
	ErrBadID:            "bad id",
	ErrDuplicateID:      "duplicate id",
	ErrDuplicateAddress: "duplicate address",
	ErrBadRole:          "bad role",
	ErrMalformed:        "malformed message",
	ErrNotLeader:        "not leader",
	ErrLeadershipLost:   "leadership lost",
	ErrShutdown:         "shutdown",
	ErrCantBootstrap:    "cannot bootstrap",
	ErrCantChange:       "cannot change",
	ErrCorrupt:          "corrupt",
	ErrCanceled:         "canceled",
	ErrNameTooLong:      "name too long",
	ErrTooBig:           "too big",
	ErrNoConnection:     "no connection",
	ErrBusy:             "busy",
	ErrIO:               "io error",
	ErrNotFound:         "not found",
	ErrInvalidParam:     "invalid parameter",
	ErrUnauthorized:     "unauthorized",
	ErrNoSpace:          "no space",
	ErrTooMany:          "too many",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("errorcode(%d)", int(c))
}

// RaftError is the error type returned to callers of the engine. It wraps
// an optional underlying cause (e.g. an IO error) with a classification
// code so callers can dispatch with errors.Is against the package-level
// sentinels below.
type RaftError struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *RaftError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Cause)
	}
	return e.Code.String()
}

// Unwrap lets errors.Is/errors.As reach the underlying cause.
func (e *RaftError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, raft.ErrNotLeaderError) match on code rather than
// identity, so two independently constructed RaftErrors of the same code
// compare equal for dispatch purposes.
func (e *RaftError) Is(target error) bool {
	t, ok := target.(*RaftError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(code ErrorCode, format string, a ...interface{}) *RaftError {
	return &RaftError{Code: code, Msg: fmt.Sprintf(format, a...)}
}

func wrapErr(code ErrorCode, cause error) *RaftError {
	return &RaftError{Code: code, Cause: cause}
}

// Sentinels usable with errors.Is by callers who don't care about the
// message text, for the codes the engine most often returns, routed
// through the typed RaftError family. Other codes are matched with a
// RaftError of that code.
var (
	ErrNotLeaderError      = &RaftError{Code: ErrNotLeader}
	ErrLeadershipLostError = &RaftError{Code: ErrLeadershipLost}
	ErrShutdownError       = &RaftError{Code: ErrShutdown}
	ErrCantChangeError     = &RaftError{Code: ErrCantChange}
	ErrBusyError           = &RaftError{Code: ErrBusy}
)
