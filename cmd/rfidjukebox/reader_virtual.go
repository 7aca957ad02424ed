package main

import "sync"

// VirtualCardSource is a reader driven over IPC. A placed card stays
// readable until lifted. With missEvery > 0, every missEvery-th poll reads
// as absent to mimic contactless read failures.
type VirtualCardSource struct {
	mu        sync.Mutex
	current   TokenIdentity
	missEvery int
	polls     uint64
}

func NewVirtualCardSource(missEvery int) *VirtualCardSource {
	return &VirtualCardSource{missEvery: missEvery}
}

func (v *VirtualCardSource) Place(id TokenIdentity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = id
}

func (v *VirtualCardSource) Lift() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = NoToken
}

func (v *VirtualCardSource) Poll() PresenceSample {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.polls++
	if v.current == NoToken {
		return Absent()
	}
	if v.missEvery > 0 && v.polls%uint64(v.missEvery) == 0 {
		return Absent()
	}
	return Present(v.current)
}

func (v *VirtualCardSource) Close() error { return nil }
