package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitpulse/internal/core"
)

// Notification is a user-visible message describing a failed operation.
type Notification struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Kind      core.ErrorKind `json:"kind"`
	Message   string         `json:"message"`
	// Status is the HTTP status the failure maps to.
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier receives notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogNotifier writes notifications to slog at warn level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, n.Message, "operation", n.Operation, "kind", n.Kind, "notification_id", n.ID)
}

// MultiNotifier delivers to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// DefaultRecorderSize is the number of notifications a Recorder keeps.
const DefaultRecorderSize = 50

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	buf   []Notification
	next  int
	count int
}

// NewRecorder creates a Recorder holding up to size notifications.
func NewRecorder(size int) *Recorder {
	if size < 1 {
		size = DefaultRecorderSize
	}
	return &Recorder{buf: make([]Notification, size)}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = n
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Recent returns up to limit notifications, newest first. A non-positive limit returns all.
func (r *Recorder) Recent(limit int) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

type captureKey struct{}

// Capture collects the notifications raised while serving one request.
type Capture struct {
	mu    sync.Mutex
	items []Notification
}

// WithCapture returns a context whose notifications are also collected in the returned Capture.
func WithCapture(ctx context.Context) (context.Context, *Capture) {
	c := &Capture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

func captureFrom(ctx context.Context) *Capture {
	c, _ := ctx.Value(captureKey{}).(*Capture)
	return c
}

func (c *Capture) add(n Notification) {
	c.mu.Lock()
	c.items = append(c.items, n)
	c.mu.Unlock()
}

// Last returns the most recent captured notification.
func (c *Capture) Last() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Notification{}, false
	}
	return c.items[len(c.items)-1], true
}

// All returns every captured notification in order.
func (c *Capture) All() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// NewNotification builds the user-visible notification for a failed operation.
func NewNotification(operation string, err error, now time.Time) Notification {
	kind := core.KindOf(err)
	n := Notification{
		ID:        uuid.NewString(),
		Operation: operation,
		Kind:      kind,
		Status:    http.StatusInternalServerError,
		CreatedAt: now.UTC(),
	}
	var e *core.Error
	if errors.As(err, &e) {
		n.Status = e.HTTPStatusCode()
	}

	switch kind {
	case core.KindRateLimited:
		n.Message = "GitHub API rate limit reached. Please try again later."
	case core.KindNotFound:
		n.Message = "Repository or resource not found. Please check the repository name."
	default:
		n.Message = "Failed to " + operation + ". Please try again."
	}
	return n
}
