package host

import (
	"fmt"
	"time"

	"audioperflab/internal/threadpolicy"
	"audioperflab/internal/workgroup"
)

// workerThread is one real-time worker: it wakes on startCh, claims and
// processes chunks of the partial list on behalf of index idx, signals
// completion on the shared workDone channel, and then spends any
// remaining slack on ensureMinimumLoad before waiting for the next
// buffer.
type workerThread struct {
	idx     int
	host    *Host
	startCh chan struct{}

	membership workgroup.ScopedMembership
}

func (w *workerThread) run() {
	defer w.host.wg.Done()

	unpin := threadpolicy.Pin()
	defer unpin()

	threadpolicy.SetName(fmt.Sprintf("audio-worker-%d", w.idx))
	threadpolicy.Apply(threadpolicy.NewTimeConstraint(w.host.nominalBufferDuration()))

	defer w.leaveWorkgroup()

	for {
		<-w.startCh
		if !w.host.active.Load() {
			return
		}

		if w.host.workgroupEnabled.Load() && w.membership == nil {
			if m, err := w.host.group.Join(); err == nil {
				w.membership = m
			}
		}

		loopStart := time.Now()
		numFrames := int(w.host.numFrames.Load())

		processed := w.host.bank.Process(w.idx, numFrames)
		w.host.recordThreadStats(w.idx, threadpolicy.CurrentCPU(), processed)

		w.host.workDone <- struct{}{}

		w.host.ensureMinimumLoad(loopStart, numFrames)
	}
}

func (w *workerThread) leaveWorkgroup() {
	if w.membership == nil {
		return
	}
	w.membership.Close()
	w.membership = nil
}
