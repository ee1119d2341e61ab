// Package dns defines the narrow interface the Webservice workflow uses to
// check and reserve DNS names (spec.md §6 EXTERNAL INTERFACES, "DNS
// provider"). The provider itself is explicitly out of scope (spec.md
// Non-goals): no cloud DNS SDK is wired here (see DESIGN.md), only the
// seam a real one would plug into, plus an in-memory implementation for
// tests and for zones the Conductor manages without an external provider.
package dns

import (
	"fmt"
	"sync"
)

// Provider manages DNS records for the webservice reverse-proxy zones.
type Provider interface {
	Available(name, zone string) (bool, error)
	CreateRecord(name, zone, target string) error
	DeleteRecord(name, zone string) error
}

// InMemoryProvider is a Provider backed by a guarded map, suitable for
// single-Conductor deployments that don't delegate to an external DNS
// service, and for repository/workflow tests.
type InMemoryProvider struct {
	mu      sync.Mutex
	records map[string]string // "name.zone" -> target
}

// NewInMemoryProvider constructs an empty InMemoryProvider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{records: make(map[string]string)}
}

func key(name, zone string) string { return name + "." + zone }

func (p *InMemoryProvider) Available(name, zone string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.records[key(name, zone)]
	return !exists, nil
}

func (p *InMemoryProvider) CreateRecord(name, zone, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(name, zone)
	if _, exists := p.records[k]; exists {
		return fmt.Errorf("dns record %s already exists", k)
	}
	p.records[k] = target
	return nil
}

func (p *InMemoryProvider) DeleteRecord(name, zone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, key(name, zone))
	return nil
}
