package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/alarms"
	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/events"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

// ActionTimerExpired is invoked in the notify namespace for every expiry.
const ActionTimerExpired = "timer_expired"

const notifyTimeout = 10 * time.Second

type alarmSounder interface {
	Sound(ctx context.Context, req alarms.SoundRequest) (alarms.Response, error)
}

// expiryNotifier turns TimerExpired events into a timer_expired action and,
// for alarms on devices with a media player, an alarm sound.
type expiryNotifier struct {
	invoker actions.Invoker
	alarms  alarmSounder
	config  func() *config.Config
	logger  *slog.Logger
}

// run consumes ch until it is closed or ctx ends.
func (n *expiryNotifier) run(ctx context.Context, ch <-chan events.TimerExpired) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			n.handle(ctx, evt)
		}
	}
}

func (n *expiryNotifier) handle(ctx context.Context, evt events.TimerExpired) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	cfg := n.config()

	payload := map[string]any{
		"timer_id":   evt.TimerID,
		"entity_id":  evt.Owner,
		"class":      evt.Class,
		"fire_at":    evt.FireAt.Format(time.RFC3339),
		"expired_at": evt.ExpiredAt.Format(time.RFC3339),
		"late":       evt.Late,
	}
	if evt.Name != "" {
		payload["name"] = evt.Name
	}
	if err := n.invoker.Invoke(ctx, cfg.Timers.NotifyNamespace, ActionTimerExpired, payload); err != nil {
		n.logger.Error("Failed to send timer notification", logfields.TimerID(evt.TimerID), logfields.Error(err))
	}

	// Alarms found past due at startup are reported but not sounded.
	if evt.Late || evt.Class != timers.ClassAlarm || n.alarms == nil || cfg.Timers.AlarmMedia == "" {
		return
	}
	dev, ok := cfg.Device(evt.Owner)
	if !ok || dev.MediaPlayer == "" {
		return
	}
	_, err := n.alarms.Sound(ctx, alarms.SoundRequest{
		Target:   dev.MediaPlayer,
		MediaURL: cfg.Timers.AlarmMedia,
		Resume:   true,
	})
	if err != nil {
		n.logger.Error("Failed to sound alarm", logfields.TimerID(evt.TimerID), logfields.Target(dev.MediaPlayer), logfields.Error(err))
	}
}
