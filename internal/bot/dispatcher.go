package bot

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/npezzotti/classbot/internal/matrix"
	"github.com/npezzotti/classbot/internal/state"
	"github.com/npezzotti/classbot/internal/stats"
)

const CommandMarker = "!"

// Command is a registered bot command. Run validates its own arguments.
type Command struct {
	Name        string
	Usage       string
	Description string
	// TeacherOnly commands reply with a refusal when run by anyone else.
	TeacherOnly bool
	Run         func(ctx context.Context, c *Context) error
}

// Context is what a command sees of the bot.
type Context struct {
	RoomID string
	Sender string
	Event  *matrix.Event
	Args   []string

	State      *state.Manager
	Store      Store
	Dispatcher *Dispatcher

	messenger Messenger
}

// Reply sends text to the room the command came from.
func (c *Context) Reply(ctx context.Context, text string) error {
	if _, err := c.messenger.SendText(ctx, c.RoomID, text); err != nil {
		return fmt.Errorf("reply to %s: %w", c.RoomID, err)
	}
	return nil
}

// IsTeacher reports whether identity belongs to a known teacher account.
func (c *Context) IsTeacher(ctx context.Context, identity string) bool {
	account := c.Store.GetAccountByIdentity(ctx, identity)
	return account != nil && account.IsTeacher
}

// Parse splits a message body into a command name and its arguments. ok is
// false when the body is not a command.
func Parse(body string) (name string, args []string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(body), CommandMarker)
	if !found {
		return "", nil, false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 || !strings.HasPrefix(rest, fields[0]) {
		// a bare marker, or whitespace between the marker and the name
		return "", nil, false
	}

	return strings.ToLower(fields[0]), fields[1:], true
}

type Dispatcher struct {
	commands  map[string]Command
	state     *state.Manager
	store     Store
	messenger Messenger
	logger    *slog.Logger
	stats     stats.StatsProvider
}

func NewDispatcher(commands []Command, sm *state.Manager, store Store, messenger Messenger, sp stats.StatsProvider, logger *slog.Logger) *Dispatcher {
	if sp == nil {
		sp = stats.Discard{}
	}

	d := &Dispatcher{
		commands:  make(map[string]Command, len(commands)),
		state:     sm,
		store:     store,
		messenger: messenger,
		logger:    logger,
		stats:     sp,
	}
	for _, cmd := range commands {
		d.commands[cmd.Name] = cmd
	}
	return d
}

// Names returns the registered command names in lexicographic order.
func (d *Dispatcher) Names() []string {
	return slices.Sorted(maps.Keys(d.commands))
}

func (d *Dispatcher) Lookup(name string) (Command, bool) {
	cmd, ok := d.commands[name]
	return cmd, ok
}

// Dispatch runs the command in body, if any, and returns its name. Unknown
// commands, muted senders and non-teachers in a locked room are ignored
// without a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, roomID string, event *matrix.Event, body string) (string, bool) {
	name, args, ok := Parse(body)
	if !ok {
		return "", false
	}

	cmd, ok := d.commands[name]
	if !ok {
		d.logger.Debug("unknown command", "room_id", roomID, "command", name)
		return "", false
	}

	log := d.logger.With("room_id", roomID, "event_id", event.EventID, "sender", event.Sender, "command", name)

	if d.state.UserState(roomID, event.Sender) == state.UserMuted {
		log.Debug("command from muted user ignored")
		return "", false
	}

	c := &Context{
		RoomID:     roomID,
		Sender:     event.Sender,
		Event:      event,
		Args:       args,
		State:      d.state,
		Store:      d.store,
		Dispatcher: d,
		messenger:  d.messenger,
	}

	if d.state.RoomState(roomID) == state.RoomLocked && !c.IsTeacher(ctx, event.Sender) {
		log.Debug("command in locked room ignored")
		return "", false
	}

	if cmd.TeacherOnly && !c.IsTeacher(ctx, event.Sender) {
		if err := c.Reply(ctx, fmt.Sprintf(msgTeacherOnly, CommandMarker+cmd.Name)); err != nil {
			log.Error("failed to send reply", "error", err)
		}
		return name, true
	}

	d.stats.Incr(stats.CommandsDispatched)
	if err := cmd.Run(ctx, c); err != nil {
		log.Error("command failed", "error", err)
	}
	return name, true
}
