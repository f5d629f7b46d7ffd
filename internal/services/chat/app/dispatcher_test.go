package server

import (
	"testing"
)

func TestDispatcherBroadcastReachesEverySubscriber(t *testing.T) {
	d := newDispatcher()
	peerA, bufA := newTestPeer()
	peerB, bufB := newTestPeer()
	d.subscribe(peerA, 7)
	d.subscribe(peerB, 9)

	d.broadcast(Event{Type: eventTypeOnlineUsers, Payload: []UserInfo{}})

	for _, buf := range []interface{ Len() int }{bufA, bufB} {
		if buf.Len() == 0 {
			t.Fatal("subscriber did not receive the broadcast")
		}
	}
}

func TestDispatcherSendToUserTargetsAllOfTheirConnections(t *testing.T) {
	d := newDispatcher()
	first, firstBuf := newTestPeer()
	second, secondBuf := newTestPeer()
	other, otherBuf := newTestPeer()
	d.subscribe(first, 7)
	d.subscribe(second, 7)
	d.subscribe(other, 9)

	d.sendToUser(7, Event{Type: eventTypeError, Payload: ErrorPayload{Message: "oops"}})

	if firstBuf.Len() == 0 || secondBuf.Len() == 0 {
		t.Fatal("both connections of the target user should receive the event")
	}
	if otherBuf.Len() != 0 {
		t.Fatal("other users should not receive a targeted event")
	}
}

func TestDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	d := newDispatcher()
	peer, buf := newTestPeer()
	d.subscribe(peer, 7)
	d.unsubscribe(peer)

	d.broadcast(Event{Type: eventTypeOnlineUsers, Payload: []UserInfo{}})

	if buf.Len() != 0 {
		t.Fatal("unsubscribed peer should not receive broadcasts")
	}
	if got := d.subscriberCount(); got != 0 {
		t.Fatalf("subscriberCount = %d, want 0", got)
	}
}
