package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// NOTIFICATION STORE (ledger.NotificationStore interface)
// =============================================================================

const notificationColumns = `id, user_id, type, title, body, payload_json, is_read, created_at`

func scanNotification(row interface{ Scan(...any) error }) (ledger.Notification, error) {
	var (
		n         ledger.Notification
		payload   string
		createdAt string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &payload, &n.IsRead, &createdAt); err != nil {
		return ledger.Notification{}, err
	}
	n.Payload = map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
			return ledger.Notification{}, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	n.CreatedAt = parseTime(createdAt)
	return n, nil
}

// CreateNotification persists n and returns it with ID and CreatedAt set.
func (s *Store) CreateNotification(ctx context.Context, n ledger.Notification) (ledger.Notification, error) {
	if n.Type == "" {
		n.Type = ledger.NotificationSystem
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return ledger.Notification{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	now := s.now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (user_id, type, title, body, payload_json, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		n.UserID, n.Type, n.Title, n.Body, string(payload), formatTime(now),
	)
	if err != nil {
		return ledger.Notification{}, fmt.Errorf("failed to insert notification: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return ledger.Notification{}, err
	}
	n.IsRead = false
	n.CreatedAt = parseTime(formatTime(now))
	return n, nil
}

// ListNotifications returns the user's notifications, newest first.
// limit <= 0 means no limit.
func (s *Store) ListNotifications(ctx context.Context, user ledger.UserID, limit int) ([]ledger.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{user}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []ledger.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets is_read. Marking twice is not an error.
func (s *Store) MarkNotificationRead(ctx context.Context, user ledger.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return affectedOrNotFound(res, "notification", id)
}

// MarkAllNotificationsRead returns how many notifications changed state.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, user ledger.UserID) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, user)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// DEVICE STORE (ledger.DeviceStore interface)
// =============================================================================

const deviceColumns = `id, user_id, token, platform, is_active, created_at`

func scanDevice(row interface{ Scan(...any) error }) (ledger.DeviceToken, error) {
	var (
		d         ledger.DeviceToken
		createdAt string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Token, &d.Platform, &d.IsActive, &createdAt); err != nil {
		return ledger.DeviceToken{}, err
	}
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

// UpsertDeviceToken registers a token. A token seen before moves to the
// new owner and becomes active again.
func (s *Store) UpsertDeviceToken(ctx context.Context, d ledger.DeviceToken) (ledger.DeviceToken, error) {
	if d.Platform == "" {
		d.Platform = ledger.PlatformAndroid
	}
	out, err := scanDevice(s.q.QueryRowContext(ctx, `
		INSERT INTO device_tokens (user_id, token, platform, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			is_active = 1
		RETURNING `+deviceColumns,
		d.UserID, strings.TrimSpace(d.Token), d.Platform, s.timestamp(),
	))
	if err != nil {
		return ledger.DeviceToken{}, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return out, nil
}

// ActiveDeviceTokens lists the user's push targets in registration order.
func (s *Store) ActiveDeviceTokens(ctx context.Context, user ledger.UserID) ([]ledger.DeviceToken, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM device_tokens WHERE user_id = ? AND is_active = 1 ORDER BY id`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	out := []ledger.DeviceToken{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeactivateDeviceToken stops pushes to token. Unknown tokens are ignored.
func (s *Store) DeactivateDeviceToken(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE device_tokens SET is_active = 0 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}

// =============================================================================
// EVENT STORE (ledger.EventStore interface)
// =============================================================================

const eventColumns = `id, user_id, title, note, starts_at, repeat, reminder_minutes, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (ledger.CalendarEvent, error) {
	var (
		e         ledger.CalendarEvent
		startsAt  string
		reminder  sql.NullInt64
		createdAt string
		updatedAt string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.Note, &startsAt, &e.Repeat, &reminder, &createdAt, &updatedAt)
	if err != nil {
		return ledger.CalendarEvent{}, err
	}
	e.StartsAt = parseTime(startsAt)
	if reminder.Valid {
		m := int(reminder.Int64)
		e.ReminderMinutes = &m
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func nullMinutes(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// ListEvents returns the user's calendar events ordered by start time,
// optionally restricted to a range of start dates.
func (s *Store) ListEvents(ctx context.Context, user ledger.UserID, r ledger.DateRange) ([]ledger.CalendarEvent, error) {
	where, args := dateRange([]string{"user_id = ?"}, []any{user}, "starts_date", r)
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE `+strings.Join(where, " AND ")+
			` ORDER BY starts_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := []ledger.CalendarEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEvent(ctx context.Context, user ledger.UserID, id int64) (ledger.CalendarEvent, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE id = ? AND user_id = ?`, id, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CalendarEvent{}, &ledger.NotFoundError{Resource: "event", ID: id}
	}
	if err != nil {
		return ledger.CalendarEvent{}, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e ledger.CalendarEvent) (ledger.CalendarEvent, error) {
	if e.Repeat == "" {
		e.Repeat = ledger.RepeatNone
	}
	now := s.timestamp()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO calendar_events
		(user_id, title, note, starts_at, starts_date, repeat, reminder_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Title, e.Note, formatTime(e.StartsAt), s.businessDate(e.StartsAt),
		e.Repeat, nullMinutes(e.ReminderMinutes), now, now,
	)
	if err != nil {
		return ledger.CalendarEvent{}, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.CalendarEvent{}, err
	}
	return s.GetEvent(ctx, e.UserID, id)
}

func (s *Store) UpdateEvent(ctx context.Context, e ledger.CalendarEvent) (ledger.CalendarEvent, error) {
	if e.Repeat == "" {
		e.Repeat = ledger.RepeatNone
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE calendar_events
		SET title = ?, note = ?, starts_at = ?, starts_date = ?, repeat = ?,
		    reminder_minutes = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		e.Title, e.Note, formatTime(e.StartsAt), s.businessDate(e.StartsAt), e.Repeat,
		nullMinutes(e.ReminderMinutes), s.timestamp(), e.ID, e.UserID,
	)
	if err != nil {
		return ledger.CalendarEvent{}, fmt.Errorf("failed to update event: %w", err)
	}
	if err := affectedOrNotFound(res, "event", e.ID); err != nil {
		return ledger.CalendarEvent{}, err
	}
	return s.GetEvent(ctx, e.UserID, e.ID)
}

func (s *Store) DeleteEvent(ctx context.Context, user ledger.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return affectedOrNotFound(res, "event", id)
}
