package matrix

import (
	"encoding/json"
	"strings"
)

const (
	EventTypeMember    = "m.room.member"
	EventTypeMessage   = "m.room.message"
	EventTypeReaction  = "m.reaction"
	EventTypeRedaction = "m.room.redaction"

	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipInvite = "invite"
	MembershipBan    = "ban"

	RelationAnnotation = "m.annotation"

	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
)

// Event is a client-server API event as delivered by /sync or fetched by id.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         string         `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        string         `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (e *Event) contentString(key string) string {
	if v, ok := e.Content[key].(string); ok {
		return v
	}
	return ""
}

// Membership returns the target and new membership of an m.room.member
// event. The target is the state key.
func (e *Event) Membership() (target, membership string) {
	if e.StateKey != nil {
		target = *e.StateKey
	}
	return target, e.contentString("membership")
}

// Body returns the text body of an m.room.message event with surrounding
// whitespace removed.
func (e *Event) Body() string {
	return strings.TrimSpace(e.contentString("body"))
}

// Annotation is the m.relates_to content of a reaction.
type Annotation struct {
	EventID string
	Key     string
}

// Annotation returns the reacted-to event and the reaction key. ok is false
// when the event does not carry an m.annotation relation.
func (e *Event) Annotation() (Annotation, bool) {
	rel, ok := e.Content["m.relates_to"].(map[string]any)
	if !ok {
		return Annotation{}, false
	}
	if relType, _ := rel["rel_type"].(string); relType != RelationAnnotation {
		return Annotation{}, false
	}

	eventID, _ := rel["event_id"].(string)
	key, _ := rel["key"].(string)
	if eventID == "" || key == "" {
		return Annotation{}, false
	}
	return Annotation{EventID: eventID, Key: key}, true
}

// RedactedEventID returns the id of the event a redaction removes. Room
// versions 11 and later carry it in the content instead of the top level.
func (e *Event) RedactedEventID() string {
	if e.Redacts != "" {
		return e.Redacts
	}
	return e.contentString("redacts")
}

type SyncOptions struct {
	Since      string
	Timeout    int // milliseconds
	SetTimeout bool
	Filter     string
	FullState  bool
}

type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
	Leave  map[string]LeftRoom    `json:"leave,omitempty"`
}

type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

type StateSection struct {
	Events []Event `json:"events"`
}

type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               map[string]any `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type SendEventResponse struct {
	EventID string `json:"event_id"`
}

type whoAmIResponse struct {
	UserID string `json:"user_id"`
}

// filterDefinition mirrors the subset of the Matrix filter definition the bot
// uses.
type filterDefinition struct {
	Presence eventFilter `json:"presence"`
	Room     roomFilter  `json:"room"`
}

type roomFilter struct {
	Timeline     eventFilter `json:"timeline"`
	State        eventFilter `json:"state"`
	Ephemeral    eventFilter `json:"ephemeral"`
	AccountData  eventFilter `json:"account_data"`
	IncludeLeave bool        `json:"include_leave"`
}

type eventFilter struct {
	Types []string `json:"types"`
	Limit int      `json:"limit,omitempty"`
}

// SyncFilter returns the inline filter restricting /sync to the four event
// kinds the bot routes.
func SyncFilter() string {
	routed := []string{EventTypeMember, EventTypeMessage, EventTypeReaction, EventTypeRedaction}
	def := filterDefinition{
		Presence: eventFilter{Types: []string{}},
		Room: roomFilter{
			Timeline:    eventFilter{Types: routed, Limit: 100},
			State:       eventFilter{Types: []string{EventTypeMember}},
			Ephemeral:   eventFilter{Types: []string{}},
			AccountData: eventFilter{Types: []string{}},
		},
	}

	b, _ := json.Marshal(def)
	return string(b)
}
