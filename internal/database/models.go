package database

import (
	"database/sql"
	"time"
)

type Account struct {
	Id         int
	Identity   string
	ExternalId sql.NullInt64
	IsTeacher  bool
	CreatedAt  time.Time
}

type Room struct {
	Id         int
	RoomId     string
	CourseId   int
	TeacherId  sql.NullInt64
	Shortcode  string
	GroupLabel sql.NullString
	CreatedAt  time.Time
	Active     bool
}

// TallyKey identifies a reaction tally row. Tallies are not scoped by room or
// course: the same teacher, student and emoji share one counter everywhere.
type TallyKey struct {
	TeacherId int
	StudentId int
	Emoji     string
}

type ReactionTally struct {
	Id              int
	TeacherId       int
	StudentId       int
	TeacherIdentity string
	StudentIdentity string
	Emoji           string
	Count           int
	LastUpdated     time.Time
}

// TallyResult reports the count left after an increment or decrement.
// Exists is false when the row is absent afterwards. Changed is false when
// the statement touched no row, which is also the fallback after a failure.
type TallyResult struct {
	Count   int
	Exists  bool
	Changed bool
}

type Availability struct {
	Id        int
	TeacherId int
	DayOfWeek string
	StartTime string
	EndTime   string
}
