// Package bot routes Matrix events to the command dispatcher and the reaction
// tally engine.
package bot

import (
	"context"
	"time"

	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/matrix"
)

// Messenger is the part of the Matrix client the bot talks to.
type Messenger interface {
	UserID() string
	SendText(ctx context.Context, roomID, text string) (string, error)
	GetEvent(ctx context.Context, roomID, eventID string) (*matrix.Event, error)
	JoinRoom(ctx context.Context, roomID string) (string, error)
}

// Store is the fallback-returning store the bot reads and writes through.
// *resilient.Store satisfies it.
type Store interface {
	GetOrCreateAccount(ctx context.Context, identity string) *database.Account
	GetAccountByIdentity(ctx context.Context, identity string) *database.Account
	GetRoomByRoomId(ctx context.Context, roomId string) *database.Room
	IncrementTally(ctx context.Context, key database.TallyKey, amount int) database.TallyResult
	DecrementTally(ctx context.Context, key database.TallyKey, amount int) database.TallyResult
	ListTalliesByTeacher(ctx context.Context, teacherId int) []database.ReactionTally
	ListTalliesByStudent(ctx context.Context, studentId int) []database.ReactionTally
	ListAvailability(ctx context.Context, teacherId int) []database.Availability
}

// Outcome describes what the router did with an event.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeNotified    Outcome = "notified"
	OutcomeCommand     Outcome = "command"
	OutcomeTallied     Outcome = "tallied"
	OutcomeCompensated Outcome = "compensated"
	OutcomeJoined      Outcome = "joined"
)

// EventSummary is published to observers after an event has been routed.
type EventSummary struct {
	RoomID   string    `json:"room_id"`
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	Sender   string    `json:"sender"`
	Outcome  Outcome   `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	RoutedAt time.Time `json:"routed_at"`
}

// Observer receives a summary of every routed event. Publish must not block.
type Observer interface {
	Publish(summary EventSummary)
}
