package database

import (
	"database/sql/driver"
	"errors"
	"net"
	"syscall"

	"github.com/lib/pq"
)

const (
	classConnectionException pq.ErrorClass = "08"

	codeCannotConnectNow pq.ErrorCode = "57P03"
)

// IsTransient reports whether err means the store could not be reached, as
// opposed to the store rejecting the operation. Only failures raised before a
// statement reaches the server count: a connection lost mid-statement may
// already have committed, so retrying it could apply a mutation twice.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == classConnectionException || pqErr.Code == codeCannotConnectNow
	}

	// database/sql and pq only report ErrBadConn when nothing was sent
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}
