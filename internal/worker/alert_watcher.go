package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

// AlertSource lists alerts created after a point in time.
type AlertSource interface {
	ListAlertsSince(ctx context.Context, userID string, since time.Time) ([]types.Alert, error)
}

// AlertPublisher fans alerts out to live subscribers.
type AlertPublisher interface {
	Users() []string
	SubscribedSince(userID string) (time.Time, bool)
	Publish(alert types.Alert) int
}

// AlertWatcher polls the store for new alerts of subscribed users and
// publishes each alert once.
type AlertWatcher struct {
	store    AlertSource
	hub      AlertPublisher
	interval time.Duration
	now      func() time.Time

	lastCheck map[string]time.Time
	seen      map[string]map[string]time.Time
	// subscribed holds when each watched user connected; alerts older
	// than that were already counted by the stream and are not pushed.
	subscribed map[string]time.Time
}

// DefaultAlertPollInterval is used when NewAlertWatcher gets a
// non-positive interval.
const DefaultAlertPollInterval = 5 * time.Second

// NewAlertWatcher creates a watcher that polls every interval.
func NewAlertWatcher(store AlertSource, hub AlertPublisher, interval time.Duration) *AlertWatcher {
	if interval <= 0 {
		interval = DefaultAlertPollInterval
	}
	return &AlertWatcher{
		store:     store,
		hub:       hub,
		interval:  interval,
		now:       time.Now,
		lastCheck:  make(map[string]time.Time),
		seen:       make(map[string]map[string]time.Time),
		subscribed: make(map[string]time.Time),
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *AlertWatcher) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "alert-watcher",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "alert-watcher",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *AlertWatcher) poll(ctx context.Context) {
	active := make(map[string]struct{})
	for _, userID := range w.hub.Users() {
		active[userID] = struct{}{}
		w.pollUser(ctx, userID)
	}

	// Forget users nobody listens to anymore; a later subscriber starts fresh
	for userID := range w.lastCheck {
		if _, ok := active[userID]; !ok {
			delete(w.lastCheck, userID)
			delete(w.seen, userID)
			delete(w.subscribed, userID)
		}
	}
}

func (w *AlertWatcher) pollUser(ctx context.Context, userID string) {
	now := w.now()
	since, ok := w.lastCheck[userID]
	if !ok {
		// First sight of this user: alerts from the moment they subscribed on
		// are new, even those created before this poll
		subscribed, ok := w.hub.SubscribedSince(userID)
		if !ok || subscribed.After(now) {
			subscribed = now
		}
		since = subscribed
		w.subscribed[userID] = subscribed.Truncate(time.Microsecond)
		w.seen[userID] = make(map[string]time.Time)
	}

	// Overlap one interval so rows committed during the last poll are not missed
	from := since.Add(-w.interval)
	alerts, err := w.store.ListAlertsSince(ctx, userID, from)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("alert poll failed",
			"component", "worker",
			"action", "alert_poll",
			"user_id", userID,
			"error", err,
		)
		return
	}
	w.lastCheck[userID] = now

	seen := w.seen[userID]
	cutoff := w.subscribed[userID]
	published := 0
	for _, alert := range alerts {
		if _, dup := seen[alert.ID]; dup {
			continue
		}
		seen[alert.ID] = alert.CreatedAt
		if alert.CreatedAt.Before(cutoff) {
			continue
		}
		alert.UserID = userID
		w.hub.Publish(alert)
		published++
	}

	for id, created := range seen {
		if created.Before(from) {
			delete(seen, id)
		}
	}

	if published > 0 {
		slog.Debug("alerts published",
			"component", "worker",
			"action", "alert_publish",
			"user_id", userID,
			"count", published,
		)
	}
}
