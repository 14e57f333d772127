package session

import (
	"sync"
	"time"
)

// typingWindow is how long a typing signal stays alive without being
// refreshed.
const typingWindow = 3 * time.Second

// Indicator implements the transient typing signal: latest refresh wins
// within the window, otherwise the indicator resets to inactive.
type Indicator struct {
	mu       sync.Mutex
	active   bool
	timer    *time.Timer
	window   time.Duration
	onChange func(active bool)
}

func NewIndicator(window time.Duration, onChange func(bool)) *Indicator {
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &Indicator{window: window, onChange: onChange}
}

// Refresh marks the peer as typing and restarts the reset timer.
func (t *Indicator) Refresh() {
	t.mu.Lock()
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, t.reset)
	t.mu.Unlock()

	if !wasActive {
		t.onChange(true)
	}
}

func (t *Indicator) reset() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if wasActive {
		t.onChange(false)
	}
}

func (t *Indicator) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Stop cancels the timer; used on session teardown.
func (t *Indicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = false
}
