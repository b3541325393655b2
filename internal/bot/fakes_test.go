package bot

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/matrix"
	"github.com/npezzotti/classbot/internal/resilient"
	"github.com/npezzotti/classbot/internal/state"
	"github.com/npezzotti/classbot/internal/testutil"
)

const (
	botID     = "@classbot:example.org"
	teacherID = "@teacher:example.org"
	studentID = "@student:example.org"
	roomID    = "!course:example.org"
)

type sentMessage struct {
	RoomID string
	Text   string
}

type fakeMessenger struct {
	mu     sync.Mutex
	userID string
	sent   []sentMessage
	events map[string]*matrix.Event
	getErr error
	joined []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{userID: botID, events: make(map[string]*matrix.Event)}
}

func (f *fakeMessenger) UserID() string {
	return f.userID
}

func (f *fakeMessenger) SendText(ctx context.Context, roomID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{RoomID: roomID, Text: text})
	return "$sent", nil
}

func (f *fakeMessenger) GetEvent(ctx context.Context, roomID, eventID string) (*matrix.Event, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.events[eventID]
	if !ok {
		return nil, &matrix.MatrixError{Code: matrix.ErrCodeNotFound, StatusCode: 404}
	}
	return e, nil
}

func (f *fakeMessenger) JoinRoom(ctx context.Context, roomID string) (string, error) {
	f.joined = append(f.joined, roomID)
	return roomID, nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeMessenger) remember(e matrix.Event) *matrix.Event {
	f.events[e.EventID] = &e
	return &e
}

// memoryRepository keeps tallies with the same semantics as the SQL
// statements: upsert on increment, delete when a decrement reaches zero.
type memoryRepository struct {
	accounts map[string]*database.Account
	rooms    map[string]*database.Room
	tallies  map[database.TallyKey]int
	slots    map[int][]database.Availability
	nextID   int
	down     bool
	// tallyDown fails only the tally statements
	tallyDown bool
}

var _ database.Repository = (*memoryRepository)(nil)

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		accounts: make(map[string]*database.Account),
		rooms:    make(map[string]*database.Room),
		tallies:  make(map[database.TallyKey]int),
		slots:    make(map[int][]database.Availability),
	}
}

var errStoreDown = errors.New("store down")

func (m *memoryRepository) addAccount(identity string, teacher bool) *database.Account {
	m.nextID++
	a := &database.Account{Id: m.nextID, Identity: identity, IsTeacher: teacher, CreatedAt: time.Now()}
	m.accounts[identity] = a
	return a
}

func (m *memoryRepository) addRoom(roomID, shortcode string, teacher *database.Account) *database.Room {
	m.nextID++
	r := &database.Room{Id: m.nextID, RoomId: roomID, CourseId: 7, Shortcode: shortcode, Active: true}
	if teacher != nil {
		r.TeacherId = sql.NullInt64{Int64: int64(teacher.Id), Valid: true}
	}
	m.rooms[roomID] = r
	return r
}

func (m *memoryRepository) Ping(ctx context.Context) error {
	if m.down {
		return errStoreDown
	}
	return nil
}

func (m *memoryRepository) GetOrCreateAccount(ctx context.Context, identity string) (*database.Account, error) {
	if m.down {
		return nil, errStoreDown
	}
	if a, ok := m.accounts[identity]; ok {
		return a, nil
	}
	return m.addAccount(identity, false), nil
}

func (m *memoryRepository) GetAccountByIdentity(ctx context.Context, identity string) (*database.Account, error) {
	if m.down {
		return nil, errStoreDown
	}
	return m.accounts[identity], nil
}

func (m *memoryRepository) GetRoomByRoomId(ctx context.Context, roomId string) (*database.Room, error) {
	if m.down {
		return nil, errStoreDown
	}
	return m.rooms[roomId], nil
}

func (m *memoryRepository) IncrementTally(ctx context.Context, key database.TallyKey, amount int) (database.TallyResult, error) {
	if m.down || m.tallyDown {
		return database.TallyResult{}, errStoreDown
	}
	m.tallies[key] += amount
	return database.TallyResult{Count: m.tallies[key], Exists: true, Changed: true}, nil
}

func (m *memoryRepository) DecrementTally(ctx context.Context, key database.TallyKey, amount int) (database.TallyResult, error) {
	if m.down || m.tallyDown {
		return database.TallyResult{}, errStoreDown
	}
	count, ok := m.tallies[key]
	if !ok {
		return database.TallyResult{}, nil
	}
	if count <= amount {
		delete(m.tallies, key)
		return database.TallyResult{Changed: true}, nil
	}
	m.tallies[key] = count - amount
	return database.TallyResult{Count: count - amount, Exists: true, Changed: true}, nil
}

func (m *memoryRepository) list(match func(database.TallyKey) bool) []database.ReactionTally {
	identities := make(map[int]string, len(m.accounts))
	for _, a := range m.accounts {
		identities[a.Id] = a.Identity
	}

	out := make([]database.ReactionTally, 0)
	for key, count := range m.tallies {
		if !match(key) {
			continue
		}
		out = append(out, database.ReactionTally{
			TeacherId:       key.TeacherId,
			StudentId:       key.StudentId,
			TeacherIdentity: identities[key.TeacherId],
			StudentIdentity: identities[key.StudentId],
			Emoji:           key.Emoji,
			Count:           count,
		})
	}
	return out
}

func (m *memoryRepository) ListTalliesByTeacher(ctx context.Context, teacherId int) ([]database.ReactionTally, error) {
	return m.list(func(k database.TallyKey) bool { return k.TeacherId == teacherId }), nil
}

func (m *memoryRepository) ListTalliesByStudent(ctx context.Context, studentId int) ([]database.ReactionTally, error) {
	return m.list(func(k database.TallyKey) bool { return k.StudentId == studentId }), nil
}

func (m *memoryRepository) ListAvailability(ctx context.Context, teacherId int) ([]database.Availability, error) {
	return m.slots[teacherId], nil
}

type recordingObserver struct {
	summaries []EventSummary
}

func (o *recordingObserver) Publish(summary EventSummary) {
	o.summaries = append(o.summaries, summary)
}

type harness struct {
	repo       *memoryRepository
	messenger  *fakeMessenger
	state      *state.Manager
	dispatcher *Dispatcher
	tally      *Tally
	router     *Router
	observer   *recordingObserver
	teacher    *database.Account
	student    *database.Account
}

func newHarness(t *testing.T) *harness {
	logger := testutil.TestLogger(t)
	repo := newMemoryRepository()
	teacher := repo.addAccount(teacherID, true)
	student := repo.addAccount(studentID, false)
	repo.addRoom(roomID, "MAT-101", teacher)

	runner := resilient.NewRunner(resilient.Policy{MaxAttempts: 1}, logger)
	store := resilient.NewStore(repo, runner)
	messenger := newFakeMessenger()
	sm := state.NewManager()
	observer := &recordingObserver{}

	dispatcher := NewDispatcher(DefaultCommands(), sm, store, messenger, nil, logger)
	tally := NewTally(store, messenger, nil, logger)
	router := NewRouter(RouterConfig{
		Messenger:  messenger,
		Store:      store,
		Dispatcher: dispatcher,
		Tally:      tally,
		Observer:   observer,
		Logger:     logger,
	})

	return &harness{
		repo:       repo,
		messenger:  messenger,
		state:      sm,
		dispatcher: dispatcher,
		tally:      tally,
		router:     router,
		observer:   observer,
		teacher:    teacher,
		student:    student,
	}
}

func textEvent(id, sender, body string) *matrix.Event {
	return &matrix.Event{
		EventID: id,
		Type:    matrix.EventTypeMessage,
		Sender:  sender,
		Content: map[string]any{"msgtype": matrix.MsgTypeText, "body": body},
	}
}

func reactionEvent(id, sender, target, key string) *matrix.Event {
	return &matrix.Event{
		EventID: id,
		Type:    matrix.EventTypeReaction,
		Sender:  sender,
		Content: map[string]any{"m.relates_to": map[string]any{
			"rel_type": matrix.RelationAnnotation,
			"event_id": target,
			"key":      key,
		}},
	}
}

func redactionEvent(id, sender, redacts string) *matrix.Event {
	return &matrix.Event{
		EventID: id,
		Type:    matrix.EventTypeRedaction,
		Sender:  sender,
		Redacts: redacts,
		Content: map[string]any{},
	}
}

func memberEvent(id, sender, target, membership string) *matrix.Event {
	return &matrix.Event{
		EventID:  id,
		Type:     matrix.EventTypeMember,
		Sender:   sender,
		StateKey: &target,
		Content:  map[string]any{"membership": membership},
	}
}
