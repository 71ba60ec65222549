// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package router

import "sync"

// eventBus fans out SystemEvents to every currently-subscribed channel. A
// subscriber only sees events emitted after it subscribes; there is no
// replay, matching §4.8's events() contract.
type eventBus struct {
	mu   sync.Mutex
	subs map[int]chan SystemEvent
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[int]chan SystemEvent{}}
}

func (b *eventBus) subscribe(buffer int) (<-chan SystemEvent, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan SystemEvent, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *eventBus) emit(ev SystemEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber drops events rather than stalling dispatch;
			// the registries themselves never block on a subscriber.
		}
	}
}
