package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Tickers fire synchronously inside
// Advance, at most once per Advance call (missed ticks are dropped,
// matching time.Ticker).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker registers a ticker that fires when Advance crosses its
// next deadline.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{
		ch:     make(chan time.Time, 1),
		period: d,
		next:   f.now.Add(d),
	}
	f.tickers = append(f.tickers, ft)
	return &Ticker{
		C: ft.ch,
		stop: func() {
			f.mu.Lock()
			ft.stopped = true
			f.mu.Unlock()
		},
	}
}

// Advance moves the clock forward by d and fires due tickers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	for _, ft := range f.tickers {
		if ft.stopped || f.now.Before(ft.next) {
			continue
		}
		for !f.now.Before(ft.next) {
			ft.next = ft.next.Add(ft.period)
		}
		select {
		case ft.ch <- f.now:
		default:
		}
	}
}

// Set jumps the clock to t without firing tickers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// WaitForTickers blocks until at least n unstopped tickers exist, so a
// test can Advance only after the goroutine under test is waiting.
func (f *Fake) WaitForTickers(n int) {
	for {
		f.mu.Lock()
		live := 0
		for _, ft := range f.tickers {
			if !ft.stopped {
				live++
			}
		}
		f.mu.Unlock()
		if live >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
