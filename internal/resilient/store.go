package resilient

import (
	"context"

	"github.com/npezzotti/classbot/internal/database"
)

// Store gives every repository operation a fixed fallback. Callers never see
// an error: a missing result means either "not found" or "store failed", and
// both are handled the same way.
type Store struct {
	repo   database.Repository
	runner *Runner
}

func NewStore(repo database.Repository, runner *Runner) *Store {
	return &Store{repo: repo, runner: runner}
}

func (s *Store) Ping(ctx context.Context) bool {
	return Call(ctx, s.runner, "ping", false, func(ctx context.Context) (bool, error) {
		if err := s.repo.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *Store) GetOrCreateAccount(ctx context.Context, identity string) *database.Account {
	return Call[*database.Account](ctx, s.runner, "get_or_create_account", nil, func(ctx context.Context) (*database.Account, error) {
		return s.repo.GetOrCreateAccount(ctx, identity)
	})
}

func (s *Store) GetAccountByIdentity(ctx context.Context, identity string) *database.Account {
	return Call[*database.Account](ctx, s.runner, "get_account", nil, func(ctx context.Context) (*database.Account, error) {
		return s.repo.GetAccountByIdentity(ctx, identity)
	})
}

func (s *Store) GetRoomByRoomId(ctx context.Context, roomId string) *database.Room {
	return Call[*database.Room](ctx, s.runner, "get_room", nil, func(ctx context.Context) (*database.Room, error) {
		return s.repo.GetRoomByRoomId(ctx, roomId)
	})
}

func (s *Store) IncrementTally(ctx context.Context, key database.TallyKey, amount int) database.TallyResult {
	return Call(ctx, s.runner, "increment_tally", database.TallyResult{}, func(ctx context.Context) (database.TallyResult, error) {
		return s.repo.IncrementTally(ctx, key, amount)
	})
}

func (s *Store) DecrementTally(ctx context.Context, key database.TallyKey, amount int) database.TallyResult {
	return Call(ctx, s.runner, "decrement_tally", database.TallyResult{}, func(ctx context.Context) (database.TallyResult, error) {
		return s.repo.DecrementTally(ctx, key, amount)
	})
}

func (s *Store) ListTalliesByTeacher(ctx context.Context, teacherId int) []database.ReactionTally {
	return Call(ctx, s.runner, "list_tallies_by_teacher", []database.ReactionTally{}, func(ctx context.Context) ([]database.ReactionTally, error) {
		return s.repo.ListTalliesByTeacher(ctx, teacherId)
	})
}

func (s *Store) ListTalliesByStudent(ctx context.Context, studentId int) []database.ReactionTally {
	return Call(ctx, s.runner, "list_tallies_by_student", []database.ReactionTally{}, func(ctx context.Context) ([]database.ReactionTally, error) {
		return s.repo.ListTalliesByStudent(ctx, studentId)
	})
}

func (s *Store) ListAvailability(ctx context.Context, teacherId int) []database.Availability {
	return Call(ctx, s.runner, "list_availability", []database.Availability{}, func(ctx context.Context) ([]database.Availability, error) {
		return s.repo.ListAvailability(ctx, teacherId)
	})
}
