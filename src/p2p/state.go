package p2p

import (
	"sync"
	"sync/atomic"
)

// RemoteState captures the handshake progress of a RemoteNode: Connecting,
// VersionSent, VersionReceived, Ready or Disconnected.
type RemoteState uint32

const (
	// Connecting is the state before our version is sent.
	Connecting RemoteState = iota
	// VersionSent waits for the peer's version.
	VersionSent
	// VersionReceived waits for the peer's verack.
	VersionReceived
	// Ready accepts every command.
	Ready
	// Disconnected is final.
	Disconnected
)

// String ...
func (s RemoteState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case VersionSent:
		return "VersionSent"
	case VersionReceived:
		return "VersionReceived"
	case Ready:
		return "Ready"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

type remoteState struct {
	state RemoteState
}

func (s *remoteState) getState() RemoteState {
	stateAddr := (*uint32)(&s.state)
	return RemoteState(atomic.LoadUint32(stateAddr))
}

func (s *remoteState) setState(state RemoteState) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(state))
}

// routines bounds and tracks the goroutines started by a component.
type routines struct {
	limit int32
	count int32
	wg    sync.WaitGroup
}

// goFunc starts f unless limit goroutines are already running, and reports
// whether it did.
func (r *routines) goFunc(f func()) bool {
	if atomic.AddInt32(&r.count, 1) > r.limit {
		atomic.AddInt32(&r.count, -1)
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer atomic.AddInt32(&r.count, -1)
		f()
	}()
	return true
}

func (r *routines) wait() {
	r.wg.Wait()
}
