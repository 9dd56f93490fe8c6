package ingress

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"trojanlite/internal/mixaddr"
)

func TestNegotiateSOCKS5Connect(t *testing.T) {
	var out bytes.Buffer
	// greeting (1 no-auth method) + CONNECT request for 93.184.216.34:443
	in := []byte{0x05, 0x01, 0x00, 0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xBB}
	req, err := NegotiateSOCKS5(bufio.NewReader(bytes.NewReader(in)), &out)
	require.NoError(t, err)
	require.False(t, req.UDPAssociate, "expected a CONNECT request, got UDP associate")
	require.Equal(t, mixaddr.TypeIPv4, req.Dest.Type)
	require.EqualValues(t, 443, req.Dest.Port)

	require.Equal(t, []byte{socks5Version, 0x00}, out.Bytes())
}

func TestNegotiateSOCKS5UDPAssociate(t *testing.T) {
	var out bytes.Buffer
	in := []byte{0x05, 0x01, 0x00, 0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	req, err := NegotiateSOCKS5(bufio.NewReader(bytes.NewReader(in)), &out)
	require.NoError(t, err)
	require.True(t, req.UDPAssociate)
}

func TestNegotiateSOCKS5RejectsUnsupportedCommand(t *testing.T) {
	var out bytes.Buffer
	in := []byte{0x05, 0x01, 0x00, 0x05, 0x02, 0x00, 0x01, 0, 0, 0, 0, 0, 0} // BIND
	_, err := NegotiateSOCKS5(bufio.NewReader(bytes.NewReader(in)), &out)
	require.Error(t, err)
}

func TestNegotiateSOCKS5RejectsUnsupportedVersion(t *testing.T) {
	var out bytes.Buffer
	in := []byte{0x04, 0x01, 0x00}
	_, err := NegotiateSOCKS5(bufio.NewReader(bytes.NewReader(in)), &out)
	require.Error(t, err)
}

func TestReplyConnectedEncodesIPv4(t *testing.T) {
	var out bytes.Buffer
	addr := mixaddr.NewIP(net.IPv4(127, 0, 0, 1), 1080)
	require.NoError(t, ReplyConnected(&out, addr))
	want := []byte{socks5Version, 0x00, 0x00, byte(mixaddr.TypeIPv4), 127, 0, 0, 1, 0x04, 0x38}
	require.Equal(t, want, out.Bytes())
}

func TestReplyConnectedEncodesNoneAsZeroAddress(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, ReplyConnected(&out, mixaddr.None))
	want := []byte{socks5Version, 0x00, 0x00, byte(mixaddr.TypeIPv4), 0, 0, 0, 0, 0, 0}
	require.Equal(t, want, out.Bytes())
}

func TestReplyFailed(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, ReplyFailed(&out))
	require.Equal(t, byte(0x01), out.Bytes()[1], "expected general-failure reply code")
}

func TestReadSocks5AddrHostname(t *testing.T) {
	in := []byte{byte(mixaddr.TypeHostname), 11, 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', 0x01, 0xBB}
	addr, err := readSocks5Addr(bufio.NewReader(bytes.NewReader(in[1:])), in[0])
	require.NoError(t, err)
	require.Equal(t, "example.com", addr.Hostname)
	require.EqualValues(t, 443, addr.Port)
}

func TestReadSocks5AddrIPv6(t *testing.T) {
	in := make([]byte, 1+16+2)
	in[0] = byte(mixaddr.TypeIPv6)
	in[len(in)-1] = 80
	addr, err := readSocks5Addr(bufio.NewReader(bytes.NewReader(in[1:])), in[0])
	require.NoError(t, err)
	require.Equal(t, mixaddr.TypeIPv6, addr.Type)
	require.EqualValues(t, 80, addr.Port)
}

func TestReadSocks5AddrRejectsUnsupportedType(t *testing.T) {
	_, err := readSocks5Addr(bufio.NewReader(bytes.NewReader(nil)), 0x02)
	require.Error(t, err)
}
