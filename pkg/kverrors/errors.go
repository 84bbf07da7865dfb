// ABOUTME: Central error-code set for the storage engine
// ABOUTME: Mirrors the public error list so every layer returns the same sentinels

package kverrors

import "errors"

// Code identifies one of the engine's public error conditions.
type Code int

const (
	Success Code = iota
	InvalidParameter
	InvalidKey
	InvalidPage
	IOError
	FileNotFound
	InvalidFileHeader
	InvalidFileVersion
	KeyNotFound
	DuplicateKey
	IntegrityViolated
	InternalError
	DBReadOnly
	BlobNotFound
	PrefixRequestFullKey
	CacheFull
	NotImplemented
	WouldBlock
	NotReady
	LimitsReached
	AccessDenied
	AlreadyInitialized
	NeedRecovery
	CursorStillOpen
	RecordSizeTooSmall
	KeySizeTooSmall
	NetworkError
)

var codeNames = map[Code]string{
	Success:               "success",
	InvalidParameter:      "invalid-parameter",
	InvalidKey:            "invalid-key",
	InvalidPage:           "invalid-page",
	IOError:               "io-error",
	FileNotFound:          "file-not-found",
	InvalidFileHeader:     "invalid-file-header",
	InvalidFileVersion:    "invalid-file-version",
	KeyNotFound:           "key-not-found",
	DuplicateKey:          "duplicate-key",
	IntegrityViolated:     "integrity-violated",
	InternalError:         "internal-error",
	DBReadOnly:            "db-read-only",
	BlobNotFound:          "blob-not-found",
	PrefixRequestFullKey:  "prefix-request-full-key",
	CacheFull:             "cache-full",
	NotImplemented:        "not-implemented",
	WouldBlock:            "would-block",
	NotReady:              "not-ready",
	LimitsReached:         "limits-reached",
	AccessDenied:          "access-denied",
	AlreadyInitialized:    "already-initialized",
	NeedRecovery:          "need-recovery",
	CursorStillOpen:       "cursor-still-open",
	RecordSizeTooSmall:    "record-size-too-small",
	KeySizeTooSmall:       "key-size-too-small",
	NetworkError:          "network-error",
}

// Error is a Code wrapped with a descriptive message and optional cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.msg == "" {
		return codeNames[e.code]
	}
	return codeNames[e.code] + ": " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Code reports the public error code for err, or InternalError if err does
// not originate from this package.
func CodeOf(err error) Code {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.code
	}
	return InternalError
}

// New builds an *Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap builds an *Error with the given code, message, and cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{code: code, msg: msg, err: cause}
}

// Sentinel values for errors.Is comparisons against a bare code.
var (
	ErrInvalidParameter      = New(InvalidParameter, "")
	ErrInvalidKey            = New(InvalidKey, "")
	ErrInvalidPage           = New(InvalidPage, "")
	ErrIOError               = New(IOError, "")
	ErrFileNotFound          = New(FileNotFound, "")
	ErrInvalidFileHeader     = New(InvalidFileHeader, "")
	ErrInvalidFileVersion    = New(InvalidFileVersion, "")
	ErrKeyNotFound           = New(KeyNotFound, "")
	ErrDuplicateKey          = New(DuplicateKey, "")
	ErrIntegrityViolated     = New(IntegrityViolated, "")
	ErrInternalError         = New(InternalError, "")
	ErrDBReadOnly            = New(DBReadOnly, "")
	ErrBlobNotFound          = New(BlobNotFound, "")
	ErrPrefixRequestFullKey  = New(PrefixRequestFullKey, "")
	ErrCacheFull             = New(CacheFull, "")
	ErrNotImplemented        = New(NotImplemented, "")
	ErrWouldBlock            = New(WouldBlock, "")
	ErrNotReady              = New(NotReady, "")
	ErrLimitsReached         = New(LimitsReached, "")
	ErrAccessDenied          = New(AccessDenied, "")
	ErrAlreadyInitialized    = New(AlreadyInitialized, "")
	ErrNeedRecovery          = New(NeedRecovery, "")
	ErrCursorStillOpen       = New(CursorStillOpen, "")
	ErrRecordSizeTooSmall    = New(RecordSizeTooSmall, "")
	ErrKeySizeTooSmall       = New(KeySizeTooSmall, "")
	ErrNetworkError          = New(NetworkError, "")
)

// Is lets errors.Is(err, kverrors.ErrKeyNotFound) match any *Error sharing
// the same code, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.code == te.code
	}
	return false
}
