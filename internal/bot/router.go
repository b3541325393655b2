package bot

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/npezzotti/classbot/internal/matrix"
	"github.com/npezzotti/classbot/internal/stats"
)

const (
	msgWelcome = "🎓 ¡Bienvenido/a %s a la sala %s!"
	msgLeft    = "👋 %s ha salido de la sala."
	msgInvited = "📩 %s ha invitado a %s."
)

type RouterConfig struct {
	Messenger  Messenger
	Store      Store
	Dispatcher *Dispatcher
	Tally      *Tally
	Stats      stats.StatsProvider
	Observer   Observer
	Logger     *slog.Logger
}

// Router hands each event of a sync batch to its handler, one at a time and
// in the order received.
type Router struct {
	messenger  Messenger
	store      Store
	dispatcher *Dispatcher
	tally      *Tally
	stats      stats.StatsProvider
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
	reactions  *reactionLog
}

func NewRouter(config RouterConfig) *Router {
	sp := config.Stats
	if sp == nil {
		sp = stats.Discard{}
	}

	return &Router{
		messenger:  config.Messenger,
		store:      config.Store,
		dispatcher: config.Dispatcher,
		tally:      config.Tally,
		stats:      sp,
		observer:   config.Observer,
		logger:     config.Logger,
		now:        time.Now,
		reactions:  newReactionLog(reactionLogSize),
	}
}

// HandleInitialSync accepts pending invites. The timeline of the initial
// sync is history from before the bot started and is not routed.
func (r *Router) HandleInitialSync(ctx context.Context, response *matrix.SyncResponse) {
	r.acceptInvites(ctx, response.Rooms.Invite)
}

// HandleSync routes an incremental sync batch. Joined rooms are processed in
// room id order. Once ctx is cancelled no further event is started.
func (r *Router) HandleSync(ctx context.Context, response *matrix.SyncResponse) {
	r.acceptInvites(ctx, response.Rooms.Invite)

	for _, roomID := range slices.Sorted(maps.Keys(response.Rooms.Join)) {
		for i := range response.Rooms.Join[roomID].Timeline.Events {
			if ctx.Err() != nil {
				r.logger.Info("shutdown requested, leaving batch unfinished", "room_id", roomID)
				return
			}
			r.Route(ctx, roomID, &response.Rooms.Join[roomID].Timeline.Events[i])
		}
	}
}

func (r *Router) acceptInvites(ctx context.Context, invites map[string]matrix.InvitedRoom) {
	if len(invites) == 0 {
		return
	}
	for _, roomID := range matrix.AcceptInvites(ctx, r.messenger, invites, r.logger) {
		r.publish(EventSummary{RoomID: roomID, Type: matrix.EventTypeMember, Outcome: OutcomeJoined})
	}
}

// Route handles a single event and returns what was done with it.
func (r *Router) Route(ctx context.Context, roomID string, event *matrix.Event) Outcome {
	outcome, detail := r.route(ctx, roomID, event)

	r.stats.Incr(stats.EventsRouted)
	r.publish(EventSummary{
		RoomID:  roomID,
		EventID: event.EventID,
		Type:    event.Type,
		Sender:  event.Sender,
		Outcome: outcome,
		Detail:  detail,
	})
	return outcome
}

func (r *Router) route(ctx context.Context, roomID string, event *matrix.Event) (Outcome, string) {
	if event.Sender == r.messenger.UserID() {
		return OutcomeIgnored, "own event"
	}

	switch event.Type {
	case matrix.EventTypeMember:
		return r.onMember(ctx, roomID, event)
	case matrix.EventTypeMessage:
		body := event.Body()
		if body == "" {
			return OutcomeIgnored, ""
		}
		if name, ok := r.dispatcher.Dispatch(ctx, roomID, event, body); ok {
			return OutcomeCommand, name
		}
		return OutcomeIgnored, ""
	case matrix.EventTypeReaction:
		if r.tally.Increment(ctx, roomID, event) {
			r.reactions.add(event)
			return OutcomeTallied, ""
		}
		return OutcomeIgnored, ""
	case matrix.EventTypeRedaction:
		return r.onRedaction(ctx, roomID, event)
	default:
		return OutcomeIgnored, ""
	}
}

func (r *Router) onMember(ctx context.Context, roomID string, event *matrix.Event) (Outcome, string) {
	target, membership := event.Membership()
	if target == "" || target == r.messenger.UserID() {
		return OutcomeIgnored, ""
	}

	var text string
	switch membership {
	case matrix.MembershipJoin:
		text = fmt.Sprintf(msgWelcome, target, r.roomName(ctx, roomID))
	case matrix.MembershipLeave:
		text = fmt.Sprintf(msgLeft, target)
	case matrix.MembershipInvite:
		text = fmt.Sprintf(msgInvited, event.Sender, target)
	default:
		return OutcomeIgnored, membership
	}

	if _, err := r.messenger.SendText(ctx, roomID, text); err != nil {
		r.logger.Error("failed to send membership notice",
			"room_id", roomID,
			"event_id", event.EventID,
			"membership", membership,
			"error", err,
		)
	}
	return OutcomeNotified, membership
}

// roomName prefers the shortcode of the provisioned room.
func (r *Router) roomName(ctx context.Context, roomID string) string {
	if room := r.store.GetRoomByRoomId(ctx, roomID); room != nil && room.Shortcode != "" {
		return room.Shortcode
	}
	return roomID
}

func (r *Router) onRedaction(ctx context.Context, roomID string, event *matrix.Event) (Outcome, string) {
	redactedID := event.RedactedEventID()
	if redactedID == "" {
		return OutcomeIgnored, ""
	}

	original, err := r.messenger.GetEvent(ctx, roomID, redactedID)
	if err != nil && ctx.Err() != nil {
		r.logger.Info("redaction dropped during shutdown",
			"room_id", roomID,
			"event_id", event.EventID,
			"redacts", redactedID,
			"error", err,
		)
		return OutcomeIgnored, ""
	}
	if err != nil {
		r.logger.Debug("redacted event unavailable",
			"room_id", roomID,
			"event_id", event.EventID,
			"redacts", redactedID,
			"error", err,
		)
		return OutcomeIgnored, ""
	}
	if original == nil || original.Type != matrix.EventTypeReaction {
		return OutcomeIgnored, ""
	}

	// servers may return the reaction with its content already stripped
	if _, ok := original.Annotation(); !ok {
		seen, found := r.reactions.get(redactedID)
		if !found {
			r.logger.Debug("redacted reaction has no content",
				"room_id", roomID,
				"redacts", redactedID,
			)
			return OutcomeIgnored, ""
		}
		original = seen
	}

	if r.tally.Decrement(ctx, roomID, original) {
		return OutcomeCompensated, redactedID
	}
	return OutcomeIgnored, ""
}

func (r *Router) publish(summary EventSummary) {
	if r.observer == nil {
		return
	}
	summary.RoutedAt = r.now().UTC()
	r.observer.Publish(summary)
}

const reactionLogSize = 4096

// reactionLog remembers the most recent tallied reactions by event id. ring
// holds at most size ids; next is the slot overwritten by the next add.
type reactionLog struct {
	ring   []string
	next   int
	events map[string]*matrix.Event
}

func newReactionLog(size int) *reactionLog {
	return &reactionLog{
		ring:   make([]string, size),
		events: make(map[string]*matrix.Event, size),
	}
}

func (l *reactionLog) add(event *matrix.Event) {
	if len(l.ring) == 0 {
		return
	}
	if _, ok := l.events[event.EventID]; ok {
		return
	}
	if evicted := l.ring[l.next]; evicted != "" {
		delete(l.events, evicted)
	}
	copied := *event
	l.ring[l.next] = event.EventID
	l.events[event.EventID] = &copied
	l.next = (l.next + 1) % len(l.ring)
}

func (l *reactionLog) get(eventID string) (*matrix.Event, bool) {
	event, ok := l.events[eventID]
	return event, ok
}
