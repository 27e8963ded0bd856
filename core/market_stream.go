package core

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"slotmarket/core/types"
	"slotmarket/observability"
)

const eventStreamHistoryLimit = 2048

func (n *Node) broadcast(record types.EventRecord) {
	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan types.EventRecord)
	}
	n.streamHistory = append(n.streamHistory, record.Clone())
	if len(n.streamHistory) > eventStreamHistoryLimit {
		excess := len(n.streamHistory) - eventStreamHistoryLimit
		trimmed := make([]types.EventRecord, eventStreamHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	// Sends stay under streamMu so cancel cannot close a channel mid-send.
	// They never block: a full subscriber drops the record.
	for _, ch := range n.streamSubs {
		select {
		case ch <- record.Clone():
		default:
			observability.Events().RecordDropped("stream")
		}
	}
	n.streamMu.Unlock()
}

// EventsSubscribe registers a subscriber for committed events. The cursor is
// the last sequence the caller has seen; buffered events after it are returned
// as a backlog. The subscription ends when ctx is done or cancel is called.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan types.EventRecord, func(), []types.EventRecord, error) {
	if n == nil {
		return nil, nil, nil, errNilNode
	}
	updates := make(chan types.EventRecord, 64)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan types.EventRecord)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	backlog := make([]types.EventRecord, 0, len(n.streamHistory))
	for _, entry := range n.streamHistory {
		if entry.Sequence > since {
			backlog = append(backlog, entry.Clone())
		}
	}
	n.streamMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			if sub, ok := n.streamSubs[id]; ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
