package citymatch

import (
	"sync"
	"time"
)

// Poller drives periodic refresh of observed cache keys from one goroutine.
// It owns a single timer re-armed to the earliest due key, so the number of
// polled keys never changes the number of goroutines.
type Poller struct {
	refresh func(Key)

	mu      sync.Mutex
	pending []pollCmd
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

type pollCmd struct {
	key    Key
	every  time.Duration
	remove bool
}

// NewPoller creates a poller that calls refresh for every due key.
func NewPoller(refresh func(Key)) *Poller {
	return &Poller{
		refresh: refresh,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.loop()
}

// Stop ends the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	close(p.stopCh)
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

// Schedule polls key every interval, first tick one interval from now.
// Rescheduling an already polled key resets its interval. Never blocks.
func (p *Poller) Schedule(key Key, every time.Duration) {
	if every <= 0 {
		return
	}
	p.enqueue(pollCmd{key: key, every: every})
}

// Unschedule stops polling key. Never blocks.
func (p *Poller) Unschedule(key Key) {
	p.enqueue(pollCmd{key: key, remove: true})
}

func (p *Poller) enqueue(cmd pollCmd) {
	p.mu.Lock()
	p.pending = append(p.pending, cmd)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) drain() []pollCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := p.pending
	p.pending = nil
	return cmds
}

type pollSlot struct {
	every time.Duration
	next  time.Time
}

func (p *Poller) loop() {
	defer close(p.done)

	slots := make(map[Key]*pollSlot)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if next, ok := earliest(slots); ok {
			timer.Reset(time.Until(next))
			timerC = timer.C
		}

		select {
		case <-p.stopCh:
			return

		case <-p.wake:
			now := time.Now()
			for _, cmd := range p.drain() {
				if cmd.remove {
					delete(slots, cmd.key)
					continue
				}
				slots[cmd.key] = &pollSlot{every: cmd.every, next: now.Add(cmd.every)}
			}

		case now := <-timerC:
			var due []Key
			for key, s := range slots {
				if !s.next.After(now) {
					due = append(due, key)
					s.next = now.Add(s.every)
				}
			}
			for _, key := range due {
				p.refresh(key)
			}
			continue
		}

		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func earliest(slots map[Key]*pollSlot) (time.Time, bool) {
	var (
		min time.Time
		ok  bool
	)
	for _, s := range slots {
		if !ok || s.next.Before(min) {
			min, ok = s.next, true
		}
	}
	return min, ok
}
