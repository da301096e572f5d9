package fsinteraction

import (
	"github.com/fsnotify/fsnotify"
)

// Watch is an opt-in notifier: it watches the native store root for
// filesystem events and signals on the returned channel whenever one
// arrives. It does not replace a full scan — a caller still owes
// perform_full_scan's reconciliation pass (§4.6; Non-goals rules out live,
// incremental watching as a replacement) — it only says "something
// happened, consider rescanning sooner." The channel is never closed by a
// send; call the returned close func to stop watching.
func (fi *FSInteraction) Watch() (events <-chan struct{}, stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	if err := w.Add(fi.root); err != nil {
		w.Close() //nolint:errcheck
		return nil, nil, err
	}

	ch := make(chan struct{}, 1)

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}

				select {
				case ch <- struct{}{}:
				default:
				}

			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return ch, w.Close, nil
}
