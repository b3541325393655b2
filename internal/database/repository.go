package database

import "context"

// Repository is the durable store used by the bot. Lookups that find nothing
// return a nil pointer and a nil error; errors are reserved for store failures.
type Repository interface {
	Ping(ctx context.Context) error
	GetOrCreateAccount(ctx context.Context, identity string) (*Account, error)
	GetAccountByIdentity(ctx context.Context, identity string) (*Account, error)
	GetRoomByRoomId(ctx context.Context, roomId string) (*Room, error)
	IncrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error)
	DecrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error)
	ListTalliesByTeacher(ctx context.Context, teacherId int) ([]ReactionTally, error)
	ListTalliesByStudent(ctx context.Context, studentId int) ([]ReactionTally, error)
	ListAvailability(ctx context.Context, teacherId int) ([]Availability, error)
}
