package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// watchedSignals are the signals the supervisor listens for: termination
// requests, plus SIGHUP, which the event loop receives and ignores.
var watchedSignals = []os.Signal{
	syscall.SIGTERM,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGHUP,
}

// SignalWatcher delivers OS signals relevant to the supervisor's own
// lifecycle onto a channel, independent of any signals being relayed to
// child processes.
type SignalWatcher struct {
	ch chan os.Signal
}

// NewSignalWatcher registers handlers for watchedSignals and starts
// delivering them.
func NewSignalWatcher() *SignalWatcher {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, watchedSignals...)
	return &SignalWatcher{ch: ch}
}

// C returns the channel signals arrive on.
func (w *SignalWatcher) C() <-chan os.Signal {
	return w.ch
}

// Stop deregisters the handlers and closes the channel.
func (w *SignalWatcher) Stop() {
	signal.Stop(w.ch)
	close(w.ch)
}
