// Package controller adapts luminance readings for the consumers that act on
// them: the status API, the session bus and any brightness controller.
package controller

import (
	"sort"
	"sync"
	"time"
)

// Reading is one luminance measurement of an output
type Reading struct {
	Output string    `json:"output"`
	Luma   uint8     `json:"luma"`
	Time   time.Time `json:"time"`
}

// Recorder keeps the latest reading per output and notifies subscribers
type Recorder struct {
	mu        sync.RWMutex
	latest    map[string]Reading
	listeners []chan Reading
	now       func() time.Time
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		latest:    make(map[string]Reading),
		listeners: make([]chan Reading, 0),
		now:       time.Now,
	}
}

// Adjust records a reading
func (r *Recorder) Adjust(output string, luma uint8) {
	reading := Reading{Output: output, Luma: luma, Time: r.now()}

	r.mu.Lock()
	r.latest[output] = reading
	r.mu.Unlock()

	r.notifyListeners(reading)
}

// Latest returns the last reading of output
func (r *Recorder) Latest(output string) (Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reading, ok := r.latest[output]
	return reading, ok
}

// Readings returns the last reading of every output, sorted by output name
func (r *Recorder) Readings() []Reading {
	r.mu.RLock()
	readings := make([]Reading, 0, len(r.latest))
	for _, reading := range r.latest {
		readings = append(readings, reading)
	}
	r.mu.RUnlock()

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Output < readings[j].Output
	})
	return readings
}

// Subscribe adds a listener for new readings
func (r *Recorder) Subscribe() chan Reading {
	ch := make(chan Reading, 10)
	r.mu.Lock()
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (r *Recorder) Unsubscribe(ch chan Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, listener := range r.listeners {
		if listener == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (r *Recorder) notifyListeners(reading Reading) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, listener := range r.listeners {
		select {
		case listener <- reading:
		default:
			// Skip if channel is full
		}
	}
}
