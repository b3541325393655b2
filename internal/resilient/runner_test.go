package resilient

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/classbot/internal/stats"
	"github.com/npezzotti/classbot/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type recordedSleeps struct {
	delays []time.Duration
	err    error
}

func (s *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func TestCall(t *testing.T) {
	transient := &pq.Error{Code: "57P03"}
	semantic := &pq.Error{Code: "23505"}

	tcases := []struct {
		name           string
		errs           []error
		expectedResult *int
		expectedCalls  int
		expectedSleeps int
		retries        int
		fallbacks      int
	}{
		{
			name:           "success on first attempt",
			errs:           []error{nil},
			expectedResult: intPtr(42),
			expectedCalls:  1,
		},
		{
			name:           "always transient",
			errs:           []error{transient, transient, transient},
			expectedResult: nil,
			expectedCalls:  3,
			expectedSleeps: 2,
			retries:        2,
			fallbacks:      1,
		},
		{
			name:           "non-transient on first call",
			errs:           []error{semantic},
			expectedResult: nil,
			expectedCalls:  1,
			fallbacks:      1,
		},
		{
			name:           "transient then success",
			errs:           []error{syscall.ECONNREFUSED, nil},
			expectedResult: intPtr(42),
			expectedCalls:  2,
			expectedSleeps: 1,
			retries:        1,
		},
		{
			name: "connection lost mid-statement",
			errs: []error{&net.OpError{
				Op:  "read",
				Net: "tcp",
				Err: os.NewSyscallError("read", syscall.ECONNRESET),
			}},
			expectedResult: nil,
			expectedCalls:  1,
			fallbacks:      1,
		},
		{
			name:           "transient then non-transient",
			errs:           []error{transient, semantic},
			expectedResult: nil,
			expectedCalls:  2,
			expectedSleeps: 1,
			retries:        1,
			fallbacks:      1,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			sleeps := &recordedSleeps{}
			mockStats := new(stats.MockStatsUpdater)
			if tc.retries > 0 {
				mockStats.On("Incr", stats.StoreRetries).Times(tc.retries)
			}
			if tc.fallbacks > 0 {
				mockStats.On("Incr", stats.StoreFallbacks).Times(tc.fallbacks)
			}

			r := NewRunner(
				Policy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond},
				testutil.TestLogger(t),
				WithSleep(sleeps.sleep),
				WithStats(mockStats),
			)

			calls := 0
			result := Call[*int](context.Background(), r, "test_op", nil, func(ctx context.Context) (*int, error) {
				err := tc.errs[calls]
				calls++
				if err != nil {
					return nil, err
				}
				return intPtr(42), nil
			})

			assert.Equal(t, tc.expectedResult, result, "unexpected result")
			assert.Equal(t, tc.expectedCalls, calls, "unexpected number of calls")
			assert.Len(t, sleeps.delays, tc.expectedSleeps, "unexpected number of sleeps")
			for _, d := range sleeps.delays {
				assert.Equal(t, 250*time.Millisecond, d, "expected fixed delay")
			}
			mockStats.AssertExpectations(t)
		})
	}
}

func TestCallCancelledDuringSleep(t *testing.T) {
	sleeps := &recordedSleeps{err: context.Canceled}
	r := NewRunner(Policy{MaxAttempts: 5, BaseDelay: time.Second}, testutil.TestLogger(t), WithSleep(sleeps.sleep))

	calls := 0
	result := Call(context.Background(), r, "test_op", "fallback", func(ctx context.Context) (string, error) {
		calls++
		return "", syscall.ECONNREFUSED
	})

	assert.Equal(t, "fallback", result)
	assert.Equal(t, 1, calls, "expected no attempt after cancellation")
}

func TestCallDetachesOperationContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(Policy{MaxAttempts: 1}, testutil.TestLogger(t))
	result := Call(ctx, r, "test_op", false, func(ctx context.Context) (bool, error) {
		return ctx.Err() == nil, nil
	})

	assert.True(t, result, "expected operation context to survive cancellation")
}

func TestNewRunnerClampsPolicy(t *testing.T) {
	r := NewRunner(Policy{MaxAttempts: 0, BaseDelay: -time.Second}, testutil.TestLogger(t))
	assert.Equal(t, Policy{MaxAttempts: 1, BaseDelay: 0}, r.Policy())
}

func TestWithClassifier(t *testing.T) {
	errFlaky := errors.New("flaky")
	sleeps := &recordedSleeps{}
	r := NewRunner(
		Policy{MaxAttempts: 2},
		testutil.TestLogger(t),
		WithSleep(sleeps.sleep),
		WithClassifier(func(err error) bool { return errors.Is(err, errFlaky) }),
	)

	calls := 0
	Call(context.Background(), r, "test_op", 0, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	assert.Equal(t, 2, calls, "expected custom classifier to allow a retry")
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func intPtr(i int) *int {
	return &i
}
