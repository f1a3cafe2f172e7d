// Package clientpool provides a keyed pool of gRPC clients. Each endpoint
// gets at most one client; the first request for an endpoint constructs it
// and every later request reuses it until the pool shuts down.
package clientpool

import (
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolClient is the minimal surface the pool manages.
type PoolClient interface {
	io.Closer
}

// Factory creates a client for the given endpoint address.
type Factory func(addr string) (PoolClient, error)

// Pool holds one client per endpoint address.
type Pool struct {
	clientName string
	factory    Factory
	logger     log.Logger

	clientsGauge prometheus.Gauge

	mtx     sync.RWMutex
	clients map[string]PoolClient
}

// NewPool creates an empty pool. clientsGauge may be nil.
func NewPool(clientName string, factory Factory, clientsGauge prometheus.Gauge, logger log.Logger) *Pool {
	return &Pool{
		clientName:   clientName,
		factory:      factory,
		logger:       logger,
		clientsGauge: clientsGauge,
		clients:      map[string]PoolClient{},
	}
}

// GetClientFor returns the client for the given address, creating it on
// first use.
func (p *Pool) GetClientFor(addr string) (PoolClient, error) {
	p.mtx.RLock()
	client, ok := p.clients[addr]
	p.mtx.RUnlock()
	if ok {
		return client, nil
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	if client, ok := p.clients[addr]; ok {
		return client, nil
	}
	client, err := p.factory(addr)
	if err != nil {
		return nil, err
	}
	p.clients[addr] = client
	if p.clientsGauge != nil {
		p.clientsGauge.Set(float64(len(p.clients)))
	}
	return client, nil
}

// RemoveClientFor closes and drops the client for the given address.
func (p *Pool) RemoveClientFor(addr string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	client, ok := p.clients[addr]
	if !ok {
		return
	}
	delete(p.clients, addr)
	if p.clientsGauge != nil {
		p.clientsGauge.Set(float64(len(p.clients)))
	}
	if err := client.Close(); err != nil {
		level.Error(p.logger).Log("msg", "error closing connection", "client", p.clientName, "addr", addr, "err", err)
	}
}

// RegisteredAddresses returns the addresses of all pooled clients.
func (p *Pool) RegisteredAddresses() []string {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	addrs := make([]string, 0, len(p.clients))
	for addr := range p.clients {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Count returns the number of pooled clients.
func (p *Pool) Count() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return len(p.clients)
}

// Shutdown closes every pooled client and empties the pool.
func (p *Pool) Shutdown() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for addr, client := range p.clients {
		if err := client.Close(); err != nil {
			level.Error(p.logger).Log("msg", "error closing connection", "client", p.clientName, "addr", addr, "err", err)
		}
		delete(p.clients, addr)
	}
	if p.clientsGauge != nil {
		p.clientsGauge.Set(0)
	}
}
