package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

var _ Repository = (*MockRepository)(nil)

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetOrCreateAccount(ctx context.Context, identity string) (*Account, error) {
	args := m.Called(ctx, identity)
	if account, ok := args.Get(0).(*Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetAccountByIdentity(ctx context.Context, identity string) (*Account, error) {
	args := m.Called(ctx, identity)
	if account, ok := args.Get(0).(*Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetRoomByRoomId(ctx context.Context, roomId string) (*Room, error) {
	args := m.Called(ctx, roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) IncrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error) {
	args := m.Called(ctx, key, amount)
	return args.Get(0).(TallyResult), args.Error(1)
}
func (m *MockRepository) DecrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error) {
	args := m.Called(ctx, key, amount)
	return args.Get(0).(TallyResult), args.Error(1)
}
func (m *MockRepository) ListTalliesByTeacher(ctx context.Context, teacherId int) ([]ReactionTally, error) {
	args := m.Called(ctx, teacherId)
	return args.Get(0).([]ReactionTally), args.Error(1)
}
func (m *MockRepository) ListTalliesByStudent(ctx context.Context, studentId int) ([]ReactionTally, error) {
	args := m.Called(ctx, studentId)
	return args.Get(0).([]ReactionTally), args.Error(1)
}
func (m *MockRepository) ListAvailability(ctx context.Context, teacherId int) ([]Availability, error) {
	args := m.Called(ctx, teacherId)
	return args.Get(0).([]Availability), args.Error(1)
}
