// Package frame models a captured output buffer and reduces pixel data to a
// perceived lightness percentage.
package frame

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrMetadataSet    = errors.New("frame metadata already set")
	ErrNoMetadata     = errors.New("frame metadata not received")
	ErrPlaneIndex     = errors.New("plane index out of range")
	ErrDuplicatePlane = errors.New("plane already received")
	ErrBadMetadata    = errors.New("frame metadata has zero dimensions or planes")
)

// Plane describes one dma-buf memory object of a captured buffer
type Plane struct {
	Index      uint32
	FD         int
	Size       uint32
	Offset     uint32
	Stride     uint32
	PlaneIndex uint32
}

// Close releases the plane descriptor. Safe to call twice.
func (p *Plane) Close() error {
	if p.FD < 0 {
		return nil
	}
	err := unix.Close(p.FD)
	p.FD = -1
	return err
}

// Metadata is the frame description sent before any plane
type Metadata struct {
	Width      uint32
	Height     uint32
	NumObjects uint32
	Format     uint32 // DRM fourcc
	Modifier   uint64
}

// Object accumulates one in-flight capture. It is filled by protocol
// events and owned by a single capture attempt.
type Object struct {
	Width      uint32
	Height     uint32
	NumObjects uint32
	Format     uint32
	Modifier   uint64

	hasMetadata bool
	planes      []*Plane
	received    uint32
}

// SetMetadata records dimensions and the expected plane count.
// It may be called once per attempt; zero dimensions or planes are rejected.
func (o *Object) SetMetadata(m Metadata) error {
	if o.hasMetadata {
		return ErrMetadataSet
	}
	if m.Width == 0 || m.Height == 0 || m.NumObjects == 0 {
		return fmt.Errorf("%w: %dx%d with %d planes", ErrBadMetadata, m.Width, m.Height, m.NumObjects)
	}
	o.Width = m.Width
	o.Height = m.Height
	o.NumObjects = m.NumObjects
	o.Format = m.Format
	o.Modifier = m.Modifier
	o.planes = make([]*Plane, m.NumObjects)
	o.hasMetadata = true
	return nil
}

// SetObject records one plane. Index must be below NumObjects and unique.
func (o *Object) SetObject(p Plane) error {
	if !o.hasMetadata {
		return ErrNoMetadata
	}
	if p.Index >= o.NumObjects {
		return fmt.Errorf("%w: %d >= %d", ErrPlaneIndex, p.Index, o.NumObjects)
	}
	if o.planes[p.Index] != nil {
		return fmt.Errorf("%w: %d", ErrDuplicatePlane, p.Index)
	}
	plane := p
	o.planes[p.Index] = &plane
	o.received++
	return nil
}

// HasMetadata reports whether SetMetadata succeeded
func (o *Object) HasMetadata() bool {
	return o.hasMetadata
}

// Received returns how many distinct planes have arrived
func (o *Object) Received() uint32 {
	return o.received
}

// Complete reports whether every plane 0..NumObjects-1 has been recorded.
// GPU import must wait for this.
func (o *Object) Complete() bool {
	return o.hasMetadata && o.received == o.NumObjects
}

// Planes returns the received planes ordered by index.
// Missing planes are skipped.
func (o *Object) Planes() []Plane {
	planes := make([]Plane, 0, o.received)
	for _, p := range o.planes {
		if p != nil {
			planes = append(planes, *p)
		}
	}
	return planes
}

// Plane returns the plane at index, if received
func (o *Object) Plane(index uint32) (Plane, bool) {
	if index >= uint32(len(o.planes)) || o.planes[index] == nil {
		return Plane{}, false
	}
	return *o.planes[index], true
}

// Close releases every received plane descriptor. Safe to call twice.
func (o *Object) Close() error {
	var errs []error
	for i, p := range o.planes {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close plane %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
