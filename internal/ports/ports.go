// Package ports implements the Conductor's single-owner port allocator: the
// pool of public ports available for ExposedService bindings, and the
// socat tunnel port range used for Port (VIF) dispatch (spec.md §4.D).
//
// Grounded on the teacher's internal/websocket.AgentHub: a channel-driven
// event loop owning all mutable state itself, reached only by sending it
// requests, rather than a mutex guarding a shared map. A single goroutine
// running run() is therefore the pool's only writer.
package ports

import (
	"math/rand"
	"time"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/logging"
)

// DefaultSocatRange is the VIF tunnel port range from the original
// control plane's nova-network integration, kept as an overridable package
// constant per spec.md §9's resolved Open Question (iii).
var DefaultSocatRange = [2]int{10000, 20000}

type allocateRequest struct {
	reply chan allocateResult
}

type allocateResult struct {
	port int
	err  error
}

type releaseRequest struct {
	port  int
	reply chan struct{}
}

// Allocator owns a pool of integer ports (public service ports, or socat
// tunnel ports) and serializes allocate/release through a single goroutine.
type Allocator struct {
	allocate chan allocateRequest
	release  chan releaseRequest
	stop     chan struct{}
}

// NewAllocator builds a pool covering [rangeMin, rangeMax], excluding any
// port already present in taken (ports already bound to an ExposedService
// at startup, per spec.md §9 resolved Open Question (ii)). An in-range taken
// port counts as in use, so releasing it later returns it to the pool.
func NewAllocator(rangeMin, rangeMax int, taken []int) *Allocator {
	takenSet := make(map[int]bool, len(taken))
	for _, p := range taken {
		takenSet[p] = true
	}

	free := make([]int, 0, rangeMax-rangeMin+1)
	inUse := make(map[int]bool)
	for p := rangeMin; p <= rangeMax; p++ {
		if takenSet[p] {
			inUse[p] = true
		} else {
			free = append(free, p)
		}
	}

	a := &Allocator{
		allocate: make(chan allocateRequest),
		release:  make(chan releaseRequest),
		stop:     make(chan struct{}),
	}
	go a.run(free, inUse)
	return a
}

func (a *Allocator) run(free []int, inUse map[int]bool) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case req := <-a.allocate:
			if len(free) == 0 {
				req.reply <- allocateResult{err: apperrors.NotEnoughPortForService()}
				continue
			}
			i := rng.Intn(len(free))
			port := free[i]
			free[i] = free[len(free)-1]
			free = free[:len(free)-1]
			inUse[port] = true
			req.reply <- allocateResult{port: port}

		case req := <-a.release:
			if inUse[req.port] {
				delete(inUse, req.port)
				free = append(free, req.port)
			}
			close(req.reply)

		case <-a.stop:
			logging.Ports().Info().Int("free", len(free)).Int("in_use", len(inUse)).Msg("port allocator stopped")
			return
		}
	}
}

// Allocate reserves and returns a free port from the pool.
func (a *Allocator) Allocate() (int, error) {
	reply := make(chan allocateResult)
	a.allocate <- allocateRequest{reply: reply}
	res := <-reply
	return res.port, res.err
}

// Release returns port to the pool. Releasing a port not currently in use
// (e.g. a double-release after a retried Workflow step) is a no-op.
func (a *Allocator) Release(port int) {
	reply := make(chan struct{})
	a.release <- releaseRequest{port: port, reply: reply}
	<-reply
}

// Stop shuts down the allocator's goroutine. Safe to call once during
// Conductor shutdown.
func (a *Allocator) Stop() {
	close(a.stop)
}
