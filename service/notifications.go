package service

import (
	"context"
	"strings"
	"time"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/motivation"
)

// =============================================================================
// INBOX
// =============================================================================

// ListNotifications returns the newest notifications first. limit <= 0
// returns all of them.
func (s *Service) ListNotifications(ctx context.Context, user ledger.UserID, limit int) ([]ledger.Notification, error) {
	return s.store.ListNotifications(ctx, user, limit)
}

// MarkRead is idempotent; a notification of another user is ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, user ledger.UserID, id int64) error {
	return s.store.MarkNotificationRead(ctx, user, id)
}

// MarkAllRead returns how many notifications changed state.
func (s *Service) MarkAllRead(ctx context.Context, user ledger.UserID) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, user)
}

// Default text of a test notification.
const (
	TestTitle = "Тест"
	TestBody  = "Проверка уведомлений"
)

// SendTest dispatches a SYSTEM notification through every channel.
// Empty title or body fall back to TestTitle and TestBody.
func (s *Service) SendTest(ctx context.Context, user ledger.UserID, title, body string) (ledger.Notification, error) {
	if strings.TrimSpace(title) == "" {
		title = TestTitle
	}
	if strings.TrimSpace(body) == "" {
		body = TestBody
	}
	return s.notifier.Notify(ctx, ledger.Notification{
		UserID:  user,
		Type:    ledger.NotificationSystem,
		Title:   title,
		Body:    body,
		Payload: map[string]any{"source": "test"},
	})
}

// =============================================================================
// DEVICES
// =============================================================================

// RegisterDevice assigns token to user and reactivates it. A token that
// belonged to someone else moves to user. Platform defaults to ANDROID.
func (s *Service) RegisterDevice(ctx context.Context, user ledger.UserID, token string, platform ledger.Platform) (ledger.DeviceToken, error) {
	token = strings.TrimSpace(token)
	if platform == "" {
		platform = ledger.PlatformAndroid
	}

	v := &ledger.ValidationError{}
	if token == "" {
		v.Add("token", "this field is required")
	}
	if !platform.Valid() {
		v.Add("platform", "must be one of ANDROID, IOS, WEB")
	}
	if err := v.OrNil(); err != nil {
		return ledger.DeviceToken{}, err
	}

	return s.store.UpsertDeviceToken(ctx, ledger.DeviceToken{
		UserID:   user,
		Token:    token,
		Platform: platform,
	})
}

// =============================================================================
// CALENDAR EVENTS
// =============================================================================

// ListEvents returns events whose start date falls in r, earliest first.
func (s *Service) ListEvents(ctx context.Context, user ledger.UserID, r ledger.DateRange) ([]ledger.CalendarEvent, error) {
	return s.store.ListEvents(ctx, user, r)
}

func (s *Service) GetEvent(ctx context.Context, user ledger.UserID, id int64) (ledger.CalendarEvent, error) {
	return s.store.GetEvent(ctx, user, id)
}

// CreateEvent stores the event and sends a CALENDAR notification about it.
func (s *Service) CreateEvent(ctx context.Context, user ledger.UserID, in ledger.EventInput) (ledger.CalendarEvent, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.CalendarEvent{}, err
	}

	e, err := s.store.CreateEvent(ctx, ledger.CalendarEvent{
		UserID:          user,
		Title:           in.Title,
		Note:            in.Note,
		StartsAt:        *in.StartsAt,
		Repeat:          in.Repeat,
		ReminderMinutes: in.ReminderMinutes,
	})
	if err != nil {
		return ledger.CalendarEvent{}, err
	}

	msg := s.generator.Generate(ledger.EventCalendarCreated, motivation.Context{Title: e.Title})
	s.dispatch(context.WithoutCancel(ctx), user, ledger.Notification{
		UserID: user,
		Type:   ledger.NotificationCalendar,
		Title:  msg.Title,
		Body:   msg.Body,
		Payload: map[string]any{
			"event_id":  e.ID,
			"starts_at": e.StartsAt.Format(time.RFC3339),
		},
	})
	return e, nil
}

func (s *Service) UpdateEvent(ctx context.Context, user ledger.UserID, id int64, in ledger.EventInput) (ledger.CalendarEvent, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.CalendarEvent{}, err
	}
	return s.store.UpdateEvent(ctx, ledger.CalendarEvent{
		ID:              id,
		UserID:          user,
		Title:           in.Title,
		Note:            in.Note,
		StartsAt:        *in.StartsAt,
		Repeat:          in.Repeat,
		ReminderMinutes: in.ReminderMinutes,
	})
}

func (s *Service) DeleteEvent(ctx context.Context, user ledger.UserID, id int64) error {
	return s.store.DeleteEvent(ctx, user, id)
}
