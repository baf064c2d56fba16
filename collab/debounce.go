package collab

import (
	"sync"
	"time"
)

type DebounceSettings struct {
	Wait    time.Duration
	MaxWait time.Duration
}

func DefaultDebounceSettings() *DebounceSettings {
	return &DebounceSettings{
		Wait:    250 * time.Millisecond,
		MaxWait: 1500 * time.Millisecond,
	}
}

// Debounce coalesces bursts of triggers into a single trailing-edge call.
// Each trigger reschedules the trailing timer but never pushes the fire
// time past `burstStart + MaxWait`, which bounds staleness under a
// sustained burst. The last scheduled call wins; superseded ones are
// simply dropped.
type Debounce struct {
	fn       func()
	settings *DebounceSettings

	stateLock  sync.Mutex
	timer      *time.Timer
	burstStart time.Time
	pending    bool
	stopped    bool
}

func NewDebounceWithDefaults(fn func()) *Debounce {
	return NewDebounce(fn, DefaultDebounceSettings())
}

func NewDebounce(fn func(), settings *DebounceSettings) *Debounce {
	return &Debounce{
		fn:       fn,
		settings: settings,
	}
}

func (self *Debounce) Trigger() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.stopped {
		return
	}

	now := time.Now()
	if !self.pending {
		self.pending = true
		self.burstStart = now
	}

	deadline := now.Add(self.settings.Wait)
	maxDeadline := self.burstStart.Add(self.settings.MaxWait)
	if deadline.After(maxDeadline) {
		deadline = maxDeadline
	}

	if self.timer != nil {
		self.timer.Stop()
	}
	self.timer = time.AfterFunc(deadline.Sub(now), self.fire)
}

func (self *Debounce) fire() {
	self.stateLock.Lock()
	if !self.pending || self.stopped {
		self.stateLock.Unlock()
		return
	}
	self.pending = false
	self.timer = nil
	self.stateLock.Unlock()

	self.fn()
}

// Flush fires the pending call immediately, if any.
func (self *Debounce) Flush() {
	self.stateLock.Lock()
	pending := self.pending
	if pending {
		self.pending = false
		if self.timer != nil {
			self.timer.Stop()
			self.timer = nil
		}
	}
	self.stateLock.Unlock()

	if pending {
		self.fn()
	}
}

func (self *Debounce) Stop() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.stopped = true
	self.pending = false
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}
