package directconn

import (
	"sync"
	"testing"
	"time"
)

func TestLoopbackOfferAnswerExchangesFrames(t *testing.T) {
	offerer, offerSDP, err := Offer(nil)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	defer offerer.Close()

	answerer, answerSDP, err := Answer(nil, offerSDP)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	defer answerer.Close()

	if err := offerer.SetAnswer(answerSDP); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})
	answerer.OnMessage(func(data []byte) {
		mu.Lock()
		received = data
		mu.Unlock()
		close(done)
	})

	select {
	case <-offerer.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for offerer data channel to open")
	}

	msg := []byte(`{"type":"update"}`)
	if err := offerer.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message to arrive")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(msg) {
		t.Fatalf("received = %q, want %q", received, msg)
	}
}

func TestSendBeforeReadyErrors(t *testing.T) {
	offerer, _, err := Offer(nil)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	defer offerer.Close()

	// The offerer's own data channel binds immediately (it created it), so
	// use a fresh Peer with no bound channel to exercise the guard.
	p := &Peer{}
	if err := p.Send([]byte("x")); err == nil {
		t.Fatal("expected Send to fail before the data channel is bound")
	}
}
