// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Peer is a CoAP client seen on the UDP endpoint. UDP is connectionless, so
// peers are tracked per remote address and expire when idle.
type Peer struct {
	// ID is a unique identifier for this peer session
	ID string

	// Addr is the peer's UDP address
	Addr *net.UDPAddr

	lastActivity time.Time
}

// PeerTable tracks peers and routes responses back to them. A route maps
// the message id of an inbound request to the peer that sent it, so a
// response produced later by a radio reply reaches the right address.
type PeerTable struct {
	mu       sync.Mutex
	peers    map[string]*Peer
	routes   map[uint16]*Peer
	maxPeers int
	logger   *slog.Logger
	now      func() time.Time
}

// NewPeerTable creates a peer table. Zero maxPeers means no limit.
func NewPeerTable(logger *slog.Logger, maxPeers int) *PeerTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerTable{
		peers:    make(map[string]*Peer),
		routes:   make(map[uint16]*Peer),
		maxPeers: maxPeers,
		logger:   logger,
		now:      time.Now,
	}
}

// Touch returns the peer for addr, creating it if needed, and marks it
// active.
func (pt *PeerTable) Touch(addr *net.UDPAddr) (*Peer, bool, error) {
	key := addr.String()

	pt.mu.Lock()
	defer pt.mu.Unlock()

	if p, ok := pt.peers[key]; ok {
		p.lastActivity = pt.now()
		return p, false, nil
	}

	if pt.maxPeers > 0 && len(pt.peers) >= pt.maxPeers {
		return nil, false, fmt.Errorf("peer limit reached (%d), rejecting %s", pt.maxPeers, key)
	}

	p := &Peer{
		ID:           uuid.New().String(),
		Addr:         addr,
		lastActivity: pt.now(),
	}
	pt.peers[key] = p

	pt.logger.Debug("new CoAP peer",
		slog.String("session", p.ID),
		slog.String("client", key))

	return p, true, nil
}

// Route records that the response to messageID goes to p, replacing any
// earlier route for the id.
func (pt *PeerTable) Route(messageID uint16, p *Peer) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.routes[messageID] = p
}

// Resolve returns and forgets the peer waiting for messageID.
func (pt *PeerTable) Resolve(messageID uint16) (*Peer, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.routes[messageID]
	if ok {
		delete(pt.routes, messageID)
	}
	return p, ok
}

// Retain drops every route whose message id keep rejects and returns how
// many were dropped.
func (pt *PeerTable) Retain(keep func(messageID uint16) bool) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	dropped := 0
	for mid := range pt.routes {
		if !keep(mid) {
			delete(pt.routes, mid)
			dropped++
		}
	}
	return dropped
}

// Cleanup removes peers idle for longer than timeout together with their
// routes, and returns how many peers were removed.
func (pt *PeerTable) Cleanup(timeout time.Duration) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	removed := 0
	for key, p := range pt.peers {
		if now.Sub(p.lastActivity) <= timeout {
			continue
		}
		for mid, routed := range pt.routes {
			if routed == p {
				delete(pt.routes, mid)
			}
		}
		delete(pt.peers, key)
		removed++

		pt.logger.Debug("peer expired",
			slog.String("session", p.ID),
			slog.String("client", key))
	}
	return removed
}

// Count returns the number of active peers.
func (pt *PeerTable) Count() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.peers)
}
