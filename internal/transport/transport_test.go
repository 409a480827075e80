package transport

import (
	"testing"
	"time"
)

func TestListenAndUnicastRoundTrip(t *testing.T) {
	l, err := Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	go l.Serve()

	if ok := Unicast("127.0.0.1", l.Port, []byte("TYPE: PING\n\n")); !ok {
		t.Fatal("Unicast reported failure")
	}

	select {
	case d := <-l.In:
		if string(d.Data) != "TYPE: PING\n\n" {
			t.Fatalf("datagram data = %q", d.Data)
		}
		if d.SourceIP != "127.0.0.1" {
			t.Fatalf("source ip = %q, want 127.0.0.1", d.SourceIP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestListenProbesForward(t *testing.T) {
	l1, err := Listen()
	if err != nil {
		t.Fatalf("Listen (1st): %v", err)
	}
	defer l1.Close()

	l2, err := Listen()
	if err != nil {
		t.Fatalf("Listen (2nd): %v", err)
	}
	defer l2.Close()

	if l1.Port == l2.Port {
		t.Fatalf("expected distinct ports, got %d and %d", l1.Port, l2.Port)
	}
}
