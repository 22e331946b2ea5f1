package controller

import "sync"

// Adjuster consumes luminance readings
type Adjuster interface {
	Adjust(output string, luma uint8)
}

// Fanout forwards every reading to each of its targets in order. It is safe
// to call from several capture goroutines.
type Fanout struct {
	mu      sync.Mutex
	targets []Adjuster
}

// NewFanout creates a fanout over targets, skipping nil ones
func NewFanout(targets ...Adjuster) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		f.Add(t)
	}
	return f
}

// Add appends a target
func (f *Fanout) Add(target Adjuster) {
	if target == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
}

// Adjust forwards a reading
func (f *Fanout) Adjust(output string, luma uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.targets {
		t.Adjust(output, luma)
	}
}
