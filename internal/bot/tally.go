package bot

import (
	"context"
	"log/slog"

	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/matrix"
	"github.com/npezzotti/classbot/internal/stats"
)

const tallyStep = 1

// Tally turns teacher reactions on student messages into durable counters.
// A redacted reaction compensates the counter it incremented. Any failed
// lookup makes the update a no-op.
type Tally struct {
	store     Store
	messenger Messenger
	logger    *slog.Logger
	stats     stats.StatsProvider
}

func NewTally(store Store, messenger Messenger, sp stats.StatsProvider, logger *slog.Logger) *Tally {
	if sp == nil {
		sp = stats.Discard{}
	}

	return &Tally{
		store:     store,
		messenger: messenger,
		logger:    logger,
		stats:     sp,
	}
}

// Increment records a reaction. It reports whether a tally changed.
func (t *Tally) Increment(ctx context.Context, roomID string, reaction *matrix.Event) bool {
	key, ok := t.resolve(ctx, roomID, reaction)
	if !ok {
		return false
	}

	result := t.store.IncrementTally(ctx, key, tallyStep)
	if !result.Changed {
		return false
	}

	t.stats.Incr(stats.TallyIncrements)
	t.logger.Info("tally incremented",
		"room_id", roomID,
		"event_id", reaction.EventID,
		"teacher_id", key.TeacherId,
		"student_id", key.StudentId,
		"emoji", key.Emoji,
		"count", result.Count,
	)
	return true
}

// Decrement compensates a redacted reaction. reaction is the original
// reaction event, not the redaction. The row is removed once it reaches zero.
func (t *Tally) Decrement(ctx context.Context, roomID string, reaction *matrix.Event) bool {
	key, ok := t.resolve(ctx, roomID, reaction)
	if !ok {
		return false
	}

	result := t.store.DecrementTally(ctx, key, tallyStep)
	if !result.Changed {
		t.logger.Debug("no tally to decrement",
			"room_id", roomID,
			"event_id", reaction.EventID,
			"teacher_id", key.TeacherId,
			"student_id", key.StudentId,
			"emoji", key.Emoji,
		)
		return false
	}

	t.stats.Incr(stats.TallyDecrements)
	t.logger.Info("tally decremented",
		"room_id", roomID,
		"event_id", reaction.EventID,
		"teacher_id", key.TeacherId,
		"student_id", key.StudentId,
		"emoji", key.Emoji,
		"count", result.Count,
		"removed", !result.Exists,
	)
	return true
}

func (t *Tally) resolve(ctx context.Context, roomID string, reaction *matrix.Event) (database.TallyKey, bool) {
	log := t.logger.With("room_id", roomID, "event_id", reaction.EventID, "sender", reaction.Sender)

	annotation, ok := reaction.Annotation()
	if !ok {
		log.Debug("reaction without annotation")
		return database.TallyKey{}, false
	}

	teacher := t.store.GetOrCreateAccount(ctx, reaction.Sender)
	if teacher == nil || !teacher.IsTeacher {
		log.Debug("reaction sender is not a teacher")
		return database.TallyKey{}, false
	}

	target, err := t.messenger.GetEvent(ctx, roomID, annotation.EventID)
	if err != nil && ctx.Err() != nil {
		log.Info("reaction dropped during shutdown", "target_event_id", annotation.EventID, "error", err)
		return database.TallyKey{}, false
	}
	if err != nil || target == nil || target.Sender == "" {
		log.Debug("reacted-to event unavailable", "target_event_id", annotation.EventID, "error", err)
		return database.TallyKey{}, false
	}

	student := t.store.GetOrCreateAccount(ctx, target.Sender)
	if student == nil {
		log.Debug("student account unresolved", "student", target.Sender)
		return database.TallyKey{}, false
	}

	room := t.store.GetRoomByRoomId(ctx, roomID)
	if room == nil {
		log.Debug("room not provisioned")
		return database.TallyKey{}, false
	}

	return database.TallyKey{
		TeacherId: teacher.Id,
		StudentId: student.Id,
		Emoji:     annotation.Key,
	}, true
}
