package handshake

import (
	"os"
	"testing"
)

func TestFDConnReadWrite(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	rc := FDConn(r.Fd())
	wc := FDConn(w.Fd())

	if wc.Fd() != int(w.Fd()) {
		t.Errorf("Fd() = %d, want %d", wc.Fd(), w.Fd())
	}

	if err := Send(wc, KindClientReady, []byte("payload")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := Recv(rc)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Kind != KindClientReady || string(msg.Payload) != "payload" {
		t.Errorf("got %+v", msg)
	}
}
