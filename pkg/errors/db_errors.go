// Package errors classifies database errors raised while scanning or reading
// the system of record.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	ErrorTypeUnknown DatabaseErrorType = iota
	ErrorTypeNotFound
	ErrorTypeConnection
	ErrorTypeDeadlock
	ErrorTypeLockTimeout
	ErrorTypeNoSuchTable
	ErrorTypeBadField
	ErrorTypeAccessDenied
)

var typeNames = map[DatabaseErrorType]string{
	ErrorTypeUnknown:      "unknown",
	ErrorTypeNotFound:     "not_found",
	ErrorTypeConnection:   "connection",
	ErrorTypeDeadlock:     "deadlock",
	ErrorTypeLockTimeout:  "lock_timeout",
	ErrorTypeNoSuchTable:  "no_such_table",
	ErrorTypeBadField:     "bad_field",
	ErrorTypeAccessDenied: "access_denied",
}

func (t DatabaseErrorType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Transient reports whether retrying the same query later can succeed.
// Misconfiguration (missing table, unknown column, denied access) is not transient.
func (e *DatabaseError) Transient() bool {
	switch e.Type {
	case ErrorTypeConnection, ErrorTypeDeadlock, ErrorTypeLockTimeout:
		return true
	}
	return false
}

type mysqlClass struct {
	typ     DatabaseErrorType
	message string
}

var mysqlCodes = map[uint16]mysqlClass{
	1213: {ErrorTypeDeadlock, "deadlock detected"},
	1205: {ErrorTypeLockTimeout, "lock wait timeout exceeded"},
	1146: {ErrorTypeNoSuchTable, "table does not exist"},
	1054: {ErrorTypeBadField, "unknown column"},
	1044: {ErrorTypeAccessDenied, "access denied for database"},
	1045: {ErrorTypeAccessDenied, "access denied for user"},
	1142: {ErrorTypeAccessDenied, "command denied on table"},
	1040: {ErrorTypeConnection, "too many connections"},
	2006: {ErrorTypeConnection, "server has gone away"},
	2013: {ErrorTypeConnection, "lost connection during query"},
}

var connectionHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"invalid connection",
	"bad connection",
	"dial tcp",
}

// ClassifyDBError classifies err. It returns nil for a nil error.
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		class, ok := mysqlCodes[mysqlErr.Number]
		if !ok {
			class = mysqlClass{ErrorTypeUnknown, "MySQL error"}
		}
		return &DatabaseError{Type: class.typ, OriginalErr: err, MySQLErrCode: mysqlErr.Number, Message: class.message}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || hasConnectionHint(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnection, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func hasConnectionHint(msg string) bool {
	lower := strings.ToLower(msg)
	for _, hint := range connectionHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}

// IsTransient checks if the error is worth retrying later.
func IsTransient(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Transient()
}
