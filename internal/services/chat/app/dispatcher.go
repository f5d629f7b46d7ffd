package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/studyhall/studyhall/internal/platform/timeouts"
)

type writeDeadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// wsPeer serializes outbound writes for one websocket connection. A write
// deadline is armed per send so one stalled peer cannot wedge a broadcast.
type wsPeer struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	deadline writeDeadlineSetter
}

func newWSPeer(encoder *json.Encoder, deadline writeDeadlineSetter) *wsPeer {
	return &wsPeer{encoder: encoder, deadline: deadline}
}

func (p *wsPeer) send(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deadline != nil {
		_ = p.deadline.SetWriteDeadline(time.Now().Add(timeouts.BroadcastWrite))
		defer p.deadline.SetWriteDeadline(time.Time{})
	}
	return p.encoder.Encode(event)
}

// dispatcher tracks subscribed peers and fans events out to them. Delivery
// is best effort per recipient; failures are logged and do not interrupt the
// rest of the fan-out.
type dispatcher struct {
	mu          sync.Mutex
	subscribers map[*wsPeer]int64
}

func newDispatcher() *dispatcher {
	return &dispatcher{subscribers: make(map[*wsPeer]int64)}
}

func (d *dispatcher) subscribe(peer *wsPeer, userID int64) {
	d.mu.Lock()
	d.subscribers[peer] = userID
	d.mu.Unlock()
}

func (d *dispatcher) unsubscribe(peer *wsPeer) {
	d.mu.Lock()
	delete(d.subscribers, peer)
	d.mu.Unlock()
}

func (d *dispatcher) subscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

func (d *dispatcher) broadcast(event Event) {
	for _, peer := range d.snapshot() {
		if err := peer.send(event); err != nil {
			log.Printf("chat: broadcast %s event failed: %v", event.Type, err)
		}
	}
}

// sendToUser delivers an event to every subscribed connection held by the
// identity.
func (d *dispatcher) sendToUser(userID int64, event Event) {
	d.mu.Lock()
	peers := make([]*wsPeer, 0, 2)
	for peer, id := range d.subscribers {
		if id == userID {
			peers = append(peers, peer)
		}
	}
	d.mu.Unlock()

	for _, peer := range peers {
		if err := peer.send(event); err != nil {
			log.Printf("chat: send %s event to user %d failed: %v", event.Type, userID, err)
		}
	}
}

func (d *dispatcher) snapshot() []*wsPeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]*wsPeer, 0, len(d.subscribers))
	for peer := range d.subscribers {
		peers = append(peers, peer)
	}
	return peers
}
