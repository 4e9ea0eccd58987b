package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	rtsup "linkrunner/internal/runtime/supervisor"
	logx "linkrunner/pkg/logx"
)

// sdNotifier speaks the sd_notify protocol. Outside a Type=notify unit
// NOTIFY_SOCKET is unset and every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log: log.With(logx.String("comp", "systemd")),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *sdNotifier) send(state string) bool {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// start reports readiness and, when the unit sets WatchdogSec, pings the
// watchdog at half the interval.
func (n *sdNotifier) start(sup *rtsup.Supervisor) {
	if n.send(daemon.SdNotifyReady) {
		n.log.Debug("ready sent")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog settings unreadable", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (n *sdNotifier) stopping() { n.send(daemon.SdNotifyStopping) }
