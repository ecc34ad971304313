package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
)

// monitor polls feedback from every channel in the background, alongside
// whatever mode holds the bus. Queries need no lease.
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (e *Engine) startMonitor(interval time.Duration) *monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{cancel: cancel, done: make(chan struct{})}
	log := e.log.WithField("interval", interval)
	log.Debug("feedback monitor started")

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var missing []int
		for {
			select {
			case <-ctx.Done():
				log.Debug("feedback monitor stopped")
				return
			case <-ticker.C:
			}

			err := e.PollFeedback(ctx)
			var be *bus.BroadcastError
			switch {
			case err == nil:
				if len(missing) > 0 {
					log.Info("all channels answering again")
				}
				missing = nil
			case errors.As(err, &be):
				if ids := be.Channels(); !equalIDs(ids, missing) {
					log.WithFields(logrus.Fields{"channels": ids}).Warn("channels not answering")
					missing = ids
				}
			case ctx.Err() == nil:
				log.Warnf("feedback monitor: %v", err)
			}
		}
	}()
	return m
}

// stop ends the poll loop and waits for an in-flight poll to finish.
func (m *monitor) stop() {
	m.cancel()
	<-m.done
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
