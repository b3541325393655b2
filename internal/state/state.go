// Package state keeps the per-room and per-user interaction state of the bot.
// Nothing here is persisted: state lives for the lifetime of the process.
package state

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

type RoomState int

const (
	RoomIdle RoomState = iota
	RoomQuestionActive
	RoomSessionActive
	RoomLocked
)

var roomStateNames = map[RoomState]string{
	RoomIdle:           "IDLE",
	RoomQuestionActive: "QUESTION_ACTIVE",
	RoomSessionActive:  "SESSION_ACTIVE",
	RoomLocked:         "LOCKED",
}

func (s RoomState) String() string {
	if name, ok := roomStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RoomState(%d)", int(s))
}

func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type UserState int

const (
	UserIdle UserState = iota
	UserAnswering
	UserRegistering
	UserMuted
)

var userStateNames = map[UserState]string{
	UserIdle:        "IDLE",
	UserAnswering:   "ANSWERING",
	UserRegistering: "REGISTERING",
	UserMuted:       "MUTED",
}

func (s UserState) String() string {
	if name, ok := userStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UserState(%d)", int(s))
}

func (s UserState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Data is the opaque payload attached to a room or user entry.
type Data map[string]any

type userEntry struct {
	state UserState
	data  Data
}

type roomEntry struct {
	state RoomState
	data  Data
	users map[string]*userEntry
}

// Manager is safe for concurrent use. Reads of unknown rooms or users return
// the idle default and never create entries.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*roomEntry),
	}
}

func (m *Manager) room(roomID string) *roomEntry {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &roomEntry{
			data:  Data{},
			users: make(map[string]*userEntry),
		}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Manager) user(roomID, userID string) *userEntry {
	r := m.room(roomID)
	u, ok := r.users[userID]
	if !ok {
		u = &userEntry{data: Data{}}
		r.users[userID] = u
	}
	return u
}

func (m *Manager) lookupUser(roomID, userID string) (*userEntry, bool) {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}
	u, ok := r.users[userID]
	return u, ok
}

func (m *Manager) RoomState(roomID string) RoomState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[roomID]; ok {
		return r.state
	}
	return RoomIdle
}

// SetRoomState replaces both the state and the data of the room.
func (m *Manager) SetRoomState(roomID string, state RoomState, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID)
	r.state = state
	r.data = copyData(data)
}

func (m *Manager) RoomData(roomID string) Data {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[roomID]; ok {
		return copyData(r.data)
	}
	return Data{}
}

func (m *Manager) SetRoomData(roomID string, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.room(roomID).data = copyData(data)
}

func (m *Manager) UserState(roomID, userID string) UserState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.lookupUser(roomID, userID); ok {
		return u.state
	}
	return UserIdle
}

// SetUserState replaces both the state and the data of the user, creating
// the room entry if needed.
func (m *Manager) SetUserState(roomID, userID string, state UserState, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(roomID, userID)
	u.state = state
	u.data = copyData(data)
}

func (m *Manager) UserData(roomID, userID string) Data {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.lookupUser(roomID, userID); ok {
		return copyData(u.data)
	}
	return Data{}
}

func (m *Manager) SetUserData(roomID, userID string, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user(roomID, userID).data = copyData(data)
}

// Users returns the ids of the users known in a room, sorted.
func (m *Manager) Users(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return []string{}
	}
	return slices.Sorted(maps.Keys(r.users))
}

// Rooms returns the ids of every room with an entry, sorted.
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.rooms))
}

type UserSnapshot struct {
	State UserState `json:"state"`
	Data  Data      `json:"data"`
}

type RoomSnapshot struct {
	State RoomState               `json:"state"`
	Data  Data                    `json:"data"`
	Users map[string]UserSnapshot `json:"users"`
}

// Snapshot returns a copy of every entry, suitable for JSON encoding.
func (m *Manager) Snapshot() map[string]RoomSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[string]RoomSnapshot, len(m.rooms))
	for roomID, r := range m.rooms {
		users := make(map[string]UserSnapshot, len(r.users))
		for userID, u := range r.users {
			users[userID] = UserSnapshot{State: u.state, Data: copyData(u.data)}
		}
		snap[roomID] = RoomSnapshot{State: r.state, Data: copyData(r.data), Users: users}
	}
	return snap
}

// copyData copies nested maps and slices so callers cannot mutate stored
// payloads after the fact.
func copyData(d Data) Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case Data:
		return copyData(val)
	case map[string]any:
		return map[string]any(copyData(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}
