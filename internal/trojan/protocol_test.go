package trojan

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"

	"trojanlite/internal/auth"
	"trojanlite/internal/mixaddr"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		PasswordHash: auth.Hash("hunter2"),
		Cmd:          CommandConnect,
		Dest:         mixaddr.NewHostname("example.com", 443),
	}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.PasswordHash != req.PasswordHash || got.Cmd != req.Cmd || !reflect.DeepEqual(got.Dest, req.Dest) {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestReadRequestRejectsMissingCrlf(t *testing.T) {
	req := Request{PasswordHash: auth.Hash("x"), Cmd: CommandUDPAssoc, Dest: mixaddr.NewIP(nil, 53)}
	req.Dest = mixaddr.NewHostname("dns", 53)
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[auth.HashLen] = 'X' // clobber the CRLF right after the hash
	if _, err := ReadRequest(bufio.NewReader(bytes.NewReader(corrupted))); err == nil {
		t.Fatal("expected error for corrupted crlf")
	}
}

func TestUdpDatagramRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewUdpStream(&buf)
	addr := mixaddr.NewHostname("dns.google", 53)
	payload := []byte("who is example.com")
	if err := s.WriteDatagram(addr, payload); err != nil {
		t.Fatalf("WriteDatagram: %v", err)
	}
	out := make([]byte, 512)
	gotAddr, n, err := s.ReadDatagram(out)
	if err != nil {
		t.Fatalf("ReadDatagram: %v", err)
	}
	if !reflect.DeepEqual(gotAddr, addr) {
		t.Fatalf("addr = %+v, want %+v", gotAddr, addr)
	}
	if string(out[:n]) != string(payload) {
		t.Fatalf("payload = %q, want %q", out[:n], payload)
	}
}
