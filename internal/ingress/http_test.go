package ingress

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseHTTPConnect(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	target, err := ParseHTTPRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseHTTPRequest: %v", err)
	}
	if !target.IsConnect || target.Host != "example.com" || target.Port != 443 {
		t.Fatalf("got %+v", target)
	}
}

func TestParseHTTPAbsoluteForm(t *testing.T) {
	raw := "GET http://example.com/index.html HTTP/1.1\r\nHost: example.com\r\n\r\n"
	target, err := ParseHTTPRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseHTTPRequest: %v", err)
	}
	if target.IsConnect || target.Host != "example.com" || target.Port != 80 {
		t.Fatalf("got %+v", target)
	}
}

func TestParseHTTPUsesHostHeaderForRelativeForm(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: internal.example:8080\r\n\r\n"
	target, err := ParseHTTPRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ParseHTTPRequest: %v", err)
	}
	if target.Host != "internal.example" || target.Port != 8080 {
		t.Fatalf("got %+v", target)
	}
}
