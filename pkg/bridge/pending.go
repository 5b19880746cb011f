// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"time"

	"github.com/absmach/coapbridge/pkg/coap"
	bridgeerrors "github.com/absmach/coapbridge/pkg/errors"
	"github.com/absmach/coapbridge/pkg/resource"
)

// pendingRequest is a request waiting for a radio reply, or a ping waiting
// for its acknowledgement.
type pendingRequest struct {
	messageID uint16
	token     []byte
	typ       coap.Type
	method    coap.Code
	resource  resource.ID
	ping      bool
	sent      time.Time
}

// pendingTable holds at most one entry per message id.
type pendingTable struct {
	entries map[uint16]pendingRequest
	limit   int // 0 means unbounded
}

func newPendingTable(limit int) *pendingTable {
	return &pendingTable{
		entries: make(map[uint16]pendingRequest),
		limit:   limit,
	}
}

// insert adds p. An id that is already pending is rejected and the existing
// entry is kept.
func (t *pendingTable) insert(p pendingRequest) error {
	if _, ok := t.entries[p.messageID]; ok {
		return bridgeerrors.ErrDuplicateRequest
	}
	if t.limit > 0 && len(t.entries) >= t.limit {
		return bridgeerrors.ErrPendingLimit
	}
	t.entries[p.messageID] = p
	return nil
}

func (t *pendingTable) get(id uint16) (pendingRequest, bool) {
	p, ok := t.entries[id]
	return p, ok
}

// take removes and returns the entry for id.
func (t *pendingTable) take(id uint16) (pendingRequest, bool) {
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return p, ok
}

// expire removes and returns every entry older than timeout.
func (t *pendingTable) expire(now time.Time, timeout time.Duration) []pendingRequest {
	var expired []pendingRequest
	for id, p := range t.entries {
		if now.Sub(p.sent) > timeout {
			expired = append(expired, p)
			delete(t.entries, id)
		}
	}
	return expired
}

func (t *pendingTable) len() int {
	return len(t.entries)
}
