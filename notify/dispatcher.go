/*
dispatcher.go - Notification fan-out (persist, broadcast, push)

PURPOSE:
  Turns one notification into a stored row, a real-time frame for every
  open socket of the user, and a push message for every active device.

STAGES:
  1. Persist   synchronous, the only stage whose error reaches the caller
  2. Broadcast bounded by BroadcastTimeout, failures logged and dropped
  3. Push      queued to a worker pool; each device gets its own attempt
               bounded by PushTimeout, and one failing device never stops
               delivery to the others

  Stage 3 runs inline when the pool is not running (tests, CLI tools).
  A full queue drops the push job with a warning rather than blocking
  the request.

TOKEN HYGIENE:
  A Sender error wrapping ErrUnregistered deactivates that token.

USAGE:
  d := notify.NewDispatcher(store, hub, sender, notify.WithWorkers(4))
  d.Start()
  defer d.Stop()
  n, err := d.Notify(ctx, ledger.Notification{UserID: 1, Title: "Hi"})

SEE ALSO:
  - notify/fcm: Firebase Sender
  - realtime/: Broadcaster implementations
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/metrics"
)

// ErrUnregistered marks a device token the push transport no longer accepts.
var ErrUnregistered = errors.New("device token unregistered")

const (
	DefaultBroadcastTimeout = 2 * time.Second
	DefaultPushTimeout      = 5 * time.Second
	DefaultWorkers          = 4
	defaultQueueSize        = 256
)

// Store is the persistence the dispatcher needs.
type Store interface {
	CreateNotification(ctx context.Context, n ledger.Notification) (ledger.Notification, error)
	ActiveDeviceTokens(ctx context.Context, user ledger.UserID) ([]ledger.DeviceToken, error)
	DeactivateDeviceToken(ctx context.Context, token string) error
}

// Broadcaster delivers a JSON frame to the user's real-time channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, user ledger.UserID, frame []byte) error
}

// Push is one mobile push message.
type Push struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a push message and returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, p Push) (string, error)
}

// Frame is the real-time representation of a notification.
type Frame struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

func NewFrame(n ledger.Notification) Frame {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Frame{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Payload:   payload,
		CreatedAt: n.CreatedAt.Format(time.RFC3339Nano),
	}
}

// =============================================================================
// DELIVERY REPORT
// =============================================================================

type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeFailed       Outcome = "failed"
	OutcomeUnregistered Outcome = "unregistered"
)

type DeviceResult struct {
	Token     string
	Platform  ledger.Platform
	Outcome   Outcome
	MessageID string
	Err       error
}

// Report lists per-device push outcomes for one notification.
type Report struct {
	NotificationID int64
	Results        []DeviceResult
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	store       Store
	broadcaster Broadcaster
	sender      Sender
	metrics     *metrics.Metrics
	logger      *slog.Logger

	BroadcastTimeout time.Duration
	PushTimeout      time.Duration
	Workers          int

	queue   chan ledger.Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }
func WithWorkers(n int) Option { return func(d *Dispatcher) { d.Workers = n } }

func WithTimeouts(broadcast, push time.Duration) Option {
	return func(d *Dispatcher) {
		d.BroadcastTimeout = broadcast
		d.PushTimeout = push
	}
}

// NewDispatcher wires the three stages. broadcaster and sender may be nil,
// which disables that stage.
func NewDispatcher(store Store, broadcaster Broadcaster, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:            store,
		broadcaster:      broadcaster,
		sender:           sender,
		logger:           slog.Default(),
		BroadcastTimeout: DefaultBroadcastTimeout,
		PushTimeout:      DefaultPushTimeout,
		Workers:          DefaultWorkers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the push workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.sender == nil {
		return
	}
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	d.queue = make(chan ledger.Notification, defaultQueueSize)
	d.running = true
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(d.queue)
	}
	d.logger.Info("push workers started", "workers", workers)
}

// Stop drains queued pushes and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("push workers stopped")
}

func (d *Dispatcher) worker(queue <-chan ledger.Notification) {
	defer d.wg.Done()
	for n := range queue {
		d.Deliver(context.Background(), n)
	}
}

// Notify persists n, broadcasts it and schedules push delivery. Only a
// persistence failure is returned.
func (d *Dispatcher) Notify(ctx context.Context, n ledger.Notification) (ledger.Notification, error) {
	saved, err := d.store.CreateNotification(ctx, n)
	if err != nil {
		return ledger.Notification{}, fmt.Errorf("persist notification: %w", err)
	}
	d.metrics.Notification(string(saved.Type))

	d.broadcast(ctx, saved)

	if d.sender != nil && !d.enqueue(saved) {
		d.Deliver(context.WithoutCancel(ctx), saved)
	}
	return saved, nil
}

func (d *Dispatcher) broadcast(ctx context.Context, n ledger.Notification) {
	if d.broadcaster == nil {
		return
	}
	frame, err := json.Marshal(NewFrame(n))
	if err != nil {
		d.logger.Warn("encode frame failed", "notification_id", n.ID, "error", err)
		return
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.BroadcastTimeout)
	defer cancel()
	err = d.broadcaster.Broadcast(bctx, n.UserID, frame)
	d.metrics.Broadcast(err == nil)
	if err != nil {
		d.logger.Warn("broadcast failed", "user_id", n.UserID, "notification_id", n.ID, "error", err)
	}
}

// enqueue hands n to the pool. It reports false when the pool is not
// running; a full queue drops the job and still reports true.
func (d *Dispatcher) enqueue(n ledger.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return false
	}
	select {
	case d.queue <- n:
	default:
		d.metrics.Push("dropped")
		d.logger.Warn("push queue full, dropping", "user_id", n.UserID, "notification_id", n.ID)
	}
	return true
}

// Deliver pushes n to every active device of its user and reports each
// outcome. It never returns an error; failures are in the report.
func (d *Dispatcher) Deliver(ctx context.Context, n ledger.Notification) Report {
	report := Report{NotificationID: n.ID}
	if d.sender == nil {
		return report
	}

	devices, err := d.store.ActiveDeviceTokens(ctx, n.UserID)
	if err != nil {
		d.logger.Warn("load device tokens failed", "user_id", n.UserID, "error", err)
		return report
	}

	data := PushData(n)
	for _, dev := range devices {
		res := d.pushOne(ctx, dev, Push{Token: dev.Token, Title: n.Title, Body: n.Body, Data: data})
		d.metrics.Push(string(res.Outcome))
		report.Results = append(report.Results, res)
	}

	if len(devices) > 0 {
		d.logger.Debug("push delivered",
			"notification_id", n.ID,
			"sent", report.Count(OutcomeSent),
			"failed", report.Count(OutcomeFailed),
			"unregistered", report.Count(OutcomeUnregistered),
		)
	}
	return report
}

func (d *Dispatcher) pushOne(ctx context.Context, dev ledger.DeviceToken, p Push) (res DeviceResult) {
	res = DeviceResult{Token: dev.Token, Platform: dev.Platform}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("push panicked: %v", r)
			d.logger.Error("push panicked", "user_id", dev.UserID, "panic", r)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, d.PushTimeout)
	defer cancel()

	id, err := d.sender.Send(pctx, p)
	switch {
	case err == nil:
		res.Outcome = OutcomeSent
		res.MessageID = id
	case errors.Is(err, ErrUnregistered):
		res.Outcome = OutcomeUnregistered
		res.Err = err
		if derr := d.store.DeactivateDeviceToken(ctx, dev.Token); derr != nil {
			d.logger.Warn("deactivate token failed", "user_id", dev.UserID, "error", derr)
		}
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		d.logger.Warn("push failed", "user_id", dev.UserID, "platform", dev.Platform, "error", err)
	}
	return res
}

// PushData is the string map sent with every push:
// notification_id plus the payload, non-string values JSON-encoded.
func PushData(n ledger.Notification) map[string]string {
	data := make(map[string]string, len(n.Payload)+1)
	for k, v := range n.Payload {
		data[k] = stringify(v)
	}
	data["notification_id"] = strconv.FormatInt(n.ID, 10)
	return data
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
