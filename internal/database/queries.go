package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	accountColumns = "id, identity, external_id, is_teacher, created_at"
	roomColumns    = "id, room_id, course_id, teacher_id, shortcode, group_label, created_at, active"

	incrementTallyQuery = "INSERT INTO reaction_tallies (teacher_id, student_id, emoji, count, last_updated) " +
		"VALUES ($1, $2, $3, $4, $5) " +
		"ON CONFLICT (teacher_id, student_id, emoji) " +
		"DO UPDATE SET count = reaction_tallies.count + EXCLUDED.count, last_updated = EXCLUDED.last_updated " +
		"RETURNING count"

	// Both branches read the same snapshot and their predicates are disjoint,
	// so at most one of them touches the row.
	decrementTallyQuery = `
		WITH deleted AS (
			DELETE FROM reaction_tallies
			WHERE teacher_id = $1 AND student_id = $2 AND emoji = $3 AND count <= $4
			RETURNING 0 AS count
		), updated AS (
			UPDATE reaction_tallies SET count = count - $4, last_updated = $5
			WHERE teacher_id = $1 AND student_id = $2 AND emoji = $3 AND count > $4
			RETURNING count
		)
		SELECT count FROM updated
		UNION ALL
		SELECT count FROM deleted`

	listTalliesQuery = `
		SELECT t.id, t.teacher_id, t.student_id, ta.identity, sa.identity, t.emoji, t.count, t.last_updated
		FROM reaction_tallies t
		JOIN accounts ta ON ta.id = t.teacher_id
		JOIN accounts sa ON sa.id = t.student_id`
)

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Identity,
		&a.ExternalId,
		&a.IsTeacher,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (db *PgRepository) GetOrCreateAccount(ctx context.Context, identity string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (identity, is_teacher, created_at) VALUES ($1, FALSE, $2) "+
			"ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity "+
			"RETURNING "+accountColumns,
		identity,
		time.Now().UTC(),
	)

	return scanAccount(row)
}

func (db *PgRepository) GetAccountByIdentity(ctx context.Context, identity string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE identity = $1 LIMIT 1",
		identity,
	)

	return scanAccount(row)
}

func (db *PgRepository) GetRoomByRoomId(ctx context.Context, roomId string) (*Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.RoomId,
		&room.CourseId,
		&room.TeacherId,
		&room.Shortcode,
		&room.GroupLabel,
		&room.CreatedAt,
		&room.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &room, nil
}

func (db *PgRepository) IncrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error) {
	if amount <= 0 {
		return TallyResult{}, fmt.Errorf("increment amount must be positive, got %d", amount)
	}

	var count int
	err := db.conn.QueryRowContext(ctx,
		incrementTallyQuery,
		key.TeacherId,
		key.StudentId,
		key.Emoji,
		amount,
		time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return TallyResult{}, err
	}

	return TallyResult{Count: count, Exists: true, Changed: true}, nil
}

func (db *PgRepository) DecrementTally(ctx context.Context, key TallyKey, amount int) (TallyResult, error) {
	if amount <= 0 {
		return TallyResult{}, fmt.Errorf("decrement amount must be positive, got %d", amount)
	}

	var count int
	err := db.conn.QueryRowContext(ctx,
		decrementTallyQuery,
		key.TeacherId,
		key.StudentId,
		key.Emoji,
		amount,
		time.Now().UTC(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// no row for this triple
		return TallyResult{}, nil
	}
	if err != nil {
		return TallyResult{}, err
	}

	return TallyResult{Count: count, Exists: count > 0, Changed: true}, nil
}

func (db *PgRepository) ListTalliesByTeacher(ctx context.Context, teacherId int) ([]ReactionTally, error) {
	return db.listTallies(ctx, listTalliesQuery+" WHERE t.teacher_id = $1 ORDER BY sa.identity, t.emoji", teacherId)
}

func (db *PgRepository) ListTalliesByStudent(ctx context.Context, studentId int) ([]ReactionTally, error) {
	return db.listTallies(ctx, listTalliesQuery+" WHERE t.student_id = $1 ORDER BY ta.identity, t.emoji", studentId)
}

func (db *PgRepository) listTallies(ctx context.Context, query string, accountId int) ([]ReactionTally, error) {
	rows, err := db.conn.QueryContext(ctx, query, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tallies = make([]ReactionTally, 0)
	for rows.Next() {
		var t ReactionTally
		if err := rows.Scan(
			&t.Id,
			&t.TeacherId,
			&t.StudentId,
			&t.TeacherIdentity,
			&t.StudentIdentity,
			&t.Emoji,
			&t.Count,
			&t.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}

		tallies = append(tallies, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tallies, nil
}

func (db *PgRepository) ListAvailability(ctx context.Context, teacherId int) ([]Availability, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, teacher_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI') "+
			"FROM teacher_availability WHERE teacher_id = $1 ORDER BY id",
		teacherId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots = make([]Availability, 0)
	for rows.Next() {
		var a Availability
		if err := rows.Scan(&a.Id, &a.TeacherId, &a.DayOfWeek, &a.StartTime, &a.EndTime); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}

		slots = append(slots, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return slots, nil
}
