package sdnotify

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notify states understood by the service manager.
const (
	Ready    = daemon.SdNotifyReady
	Stopping = daemon.SdNotifyStopping
	Watchdog = daemon.SdNotifyWatchdog
)

// Notify sends state to the systemd notify socket without unsetting
// NOTIFY_SOCKET. The bool reports whether a socket was there to receive
// it; (false, nil) means the process is not under systemd and the call
// was a no-op.
func Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// WatchdogInterval reports the unit's WatchdogSec. (0, nil) means no
// watchdog is configured; kick at half the returned interval.
func WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}
