package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/classbot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIdentityPattern = "@test-%:example.org"

func testDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
}

// setupTestDB connects to the test database, applies the migrations and
// removes accounts left by earlier runs. Tallies go with them.
func setupTestDB(t *testing.T) *PgRepository {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo, err := NewPgRepository(ctx, testDatabaseURL(), PoolOptions{MaxOpenConns: 4})
	if err != nil {
		t.Skipf("skipping test: database not available: %v", err)
	}

	require.NoError(t, Migrate(testDatabaseURL(), testutil.TestLogger(t)), "failed to migrate test database")

	cleanup := func() {
		_, err := repo.conn.Exec("DELETE FROM accounts WHERE identity LIKE $1", testIdentityPattern)
		assert.NoError(t, err, "failed to clean up test accounts")
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		repo.Close()
	})

	return repo
}

func tallyKeyFor(t *testing.T, repo *PgRepository, emoji string) TallyKey {
	t.Helper()

	ctx := context.Background()
	teacher, err := repo.GetOrCreateAccount(ctx, "@test-teacher:example.org")
	require.NoError(t, err)
	student, err := repo.GetOrCreateAccount(ctx, "@test-student:example.org")
	require.NoError(t, err)

	return TallyKey{TeacherId: teacher.Id, StudentId: student.Id, Emoji: emoji}
}

func tallyRows(t *testing.T, repo *PgRepository, key TallyKey) int {
	t.Helper()

	var n int
	err := repo.conn.QueryRow(
		"SELECT COUNT(*) FROM reaction_tallies WHERE teacher_id = $1 AND student_id = $2 AND emoji = $3",
		key.TeacherId, key.StudentId, key.Emoji,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestTallyIncrementThenDecrement(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	key := tallyKeyFor(t, repo, "👍")

	steps := []struct {
		name     string
		op       func(context.Context, TallyKey, int) (TallyResult, error)
		expected TallyResult
		rows     int
	}{
		{name: "first increment creates the row", op: repo.IncrementTally, expected: TallyResult{Count: 1, Exists: true, Changed: true}, rows: 1},
		{name: "second increment adds to it", op: repo.IncrementTally, expected: TallyResult{Count: 2, Exists: true, Changed: true}, rows: 1},
		{name: "first decrement subtracts", op: repo.DecrementTally, expected: TallyResult{Count: 1, Exists: true, Changed: true}, rows: 1},
		{name: "second decrement deletes at zero", op: repo.DecrementTally, expected: TallyResult{Count: 0, Exists: false, Changed: true}, rows: 0},
		{name: "extra decrement changes nothing", op: repo.DecrementTally, expected: TallyResult{}, rows: 0},
	}

	for _, step := range steps {
		result, err := step.op(ctx, key, 1)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.expected, result, step.name)
		assert.Equal(t, step.rows, tallyRows(t, repo, key), step.name)
	}
}

func TestDecrementMissingTriple(t *testing.T) {
	repo := setupTestDB(t)
	key := tallyKeyFor(t, repo, "🎉")

	result, err := repo.DecrementTally(context.Background(), key, 1)
	assert.NoError(t, err)
	assert.Equal(t, TallyResult{}, result, "expected no change for an absent triple")
	assert.Equal(t, 0, tallyRows(t, repo, key), "expected decrement not to create a row")
}

func TestDecrementBelowZeroDeletes(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	key := tallyKeyFor(t, repo, "✅")

	_, err := repo.IncrementTally(ctx, key, 2)
	require.NoError(t, err)

	// a zero or negative count would violate CHECK (count > 0)
	result, err := repo.DecrementTally(ctx, key, 5)
	assert.NoError(t, err)
	assert.Equal(t, TallyResult{Count: 0, Exists: false, Changed: true}, result)
	assert.Equal(t, 0, tallyRows(t, repo, key))
}

func TestTallyAmountMustBePositive(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	key := tallyKeyFor(t, repo, "👍")

	tcases := []struct {
		name string
		op   func(context.Context, TallyKey, int) (TallyResult, error)
	}{
		{name: "increment", op: repo.IncrementTally},
		{name: "decrement", op: repo.DecrementTally},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			for _, amount := range []int{0, -1} {
				_, err := tc.op(ctx, key, amount)
				assert.Error(t, err, "expected amount %d to be rejected", amount)
			}
			assert.Equal(t, 0, tallyRows(t, repo, key))
		})
	}
}

func TestListTalliesByTeacherAndStudent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	thumbs := tallyKeyFor(t, repo, "👍")
	party := tallyKeyFor(t, repo, "🎉")

	for _, key := range []TallyKey{thumbs, thumbs, party} {
		_, err := repo.IncrementTally(ctx, key, 1)
		require.NoError(t, err)
	}

	byTeacher, err := repo.ListTalliesByTeacher(ctx, thumbs.TeacherId)
	require.NoError(t, err)
	require.Len(t, byTeacher, 2)
	counts := map[string]int{}
	for _, tally := range byTeacher {
		assert.Equal(t, "@test-teacher:example.org", tally.TeacherIdentity)
		assert.Equal(t, "@test-student:example.org", tally.StudentIdentity)
		counts[tally.Emoji] = tally.Count
	}
	assert.Equal(t, map[string]int{"👍": 2, "🎉": 1}, counts)

	byStudent, err := repo.ListTalliesByStudent(ctx, thumbs.StudentId)
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)
}

func TestGetOrCreateAccountIsIdempotent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first, err := repo.GetOrCreateAccount(ctx, "@test-lazy:example.org")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, first.IsTeacher, "expected lazily created account not to be a teacher")

	second, err := repo.GetOrCreateAccount(ctx, "@test-lazy:example.org")
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)

	missing, err := repo.GetAccountByIdentity(ctx, "@test-nobody:example.org")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
