package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestCreateListener(t *testing.T) {
	l, err := CreateListener("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("CreateListener failed: %v", err)
	}
	defer l.Close()

	if _, ok := l.Addr().(*net.TCPAddr); !ok {
		t.Errorf("Expected *net.TCPAddr, got %T", l.Addr())
	}
}

func TestCreateListener_UnsupportedNetwork(t *testing.T) {
	_, err := CreateListener("udp", "127.0.0.1:0")
	if err == nil {
		t.Fatal("Expected error for udp network, got nil")
	}
}

func TestCreateListener_AddrInUse(t *testing.T) {
	l, err := CreateListener("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("CreateListener failed: %v", err)
	}
	defer l.Close()

	_, err = CreateListener("tcp", l.Addr().String())
	if err == nil {
		t.Fatal("Expected error binding an address twice, got nil")
	}
	if !IsAddrInUse(err) {
		t.Errorf("IsAddrInUse(%v) = false, want true", err)
	}
}

func TestIsAddrInUse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unrelated", errors.New("connection refused"), false},
		{"syscall errno", syscall.EADDRINUSE, true},
		{"wrapped syscall error", fmt.Errorf("listen: %w", os.NewSyscallError("bind", syscall.EADDRINUSE)), true},
		{"op error", &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", syscall.EADDRINUSE)}, true},
		{"message only", errors.New("bind: Address already in use"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAddrInUse(tc.err); got != tc.want {
				t.Errorf("IsAddrInUse(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDisplayURL(t *testing.T) {
	tests := []struct {
		addr net.Addr
		tls  bool
		want string
	}{
		{&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8888}, false, "http://127.0.0.1:8888/"},
		{&net.TCPAddr{IP: net.IPv4zero, Port: 80}, false, "http://localhost:80/"},
		{&net.TCPAddr{IP: net.IPv6unspecified, Port: 443}, true, "https://localhost:443/"},
		{&net.TCPAddr{IP: net.ParseIP("::1"), Port: 9000}, false, "http://[::1]:9000/"},
	}
	for _, tc := range tests {
		if got := DisplayURL(tc.addr, tc.tls); got != tc.want {
			t.Errorf("DisplayURL(%v, %v) = %q, want %q", tc.addr, tc.tls, got, tc.want)
		}
	}
}
