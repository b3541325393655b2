package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tcases := []struct {
		name      string
		err       error
		transient bool
	}{
		{
			name:      "nil error",
			err:       nil,
			transient: false,
		},
		{
			name:      "connection failure class",
			err:       &pq.Error{Code: "08006"},
			transient: true,
		},
		{
			name:      "connection does not exist",
			err:       fmt.Errorf("query: %w", &pq.Error{Code: "08003"}),
			transient: true,
		},
		{
			name:      "cannot connect now",
			err:       &pq.Error{Code: "57P03"},
			transient: true,
		},
		{
			name:      "admin shutdown",
			err:       &pq.Error{Code: "57P01"},
			transient: false,
		},
		{
			name:      "unique violation",
			err:       &pq.Error{Code: "23505"},
			transient: false,
		},
		{
			name:      "syntax error",
			err:       &pq.Error{Code: "42601"},
			transient: false,
		},
		{
			name:      "bad connection",
			err:       driver.ErrBadConn,
			transient: true,
		},
		{
			name: "connection refused",
			err: &net.OpError{
				Op:  "dial",
				Net: "tcp",
				Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			},
			transient: true,
		},
		{
			name:      "wrapped connection reset",
			err:       fmt.Errorf("read: %w", syscall.ECONNRESET),
			transient: false,
		},
		{
			name: "reset while reading the result",
			err: &net.OpError{
				Op:  "read",
				Net: "tcp",
				Err: os.NewSyscallError("read", syscall.ECONNRESET),
			},
			transient: false,
		},
		{
			name: "broken pipe while writing the statement",
			err: &net.OpError{
				Op:  "write",
				Net: "tcp",
				Err: os.NewSyscallError("write", syscall.EPIPE),
			},
			transient: false,
		},
		{
			name:      "host lookup timeout",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "i/o timeout", IsTimeout: true}},
			transient: true,
		},
		{
			name:      "context canceled",
			err:       context.Canceled,
			transient: false,
		},
		{
			name:      "programming error",
			err:       errors.New("sql: converting argument $1 type"),
			transient: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err), "unexpected classification for %v", tc.err)
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err, "expected embedded migrations directory")

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")

	up, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(up), "UNIQUE (teacher_id, student_id, emoji)", "expected tally uniqueness constraint")
}
