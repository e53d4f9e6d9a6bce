package manager

import (
	"fmt"
	"net"
	"strconv"
)

// bindAddr binds addr briefly and returns the concrete address the kernel
// assigned. Port 0 picks a free port.
func bindAddr(addr string) (string, int, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", 0, err
	}
	defer l.Close()
	tcp, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected listener address %s", l.Addr())
	}
	host, _, _ := net.SplitHostPort(addr)
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port)), tcp.Port, nil
}

// withPort returns addr's host joined with port.
func withPort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// dialAddr converts a listen address into one a client can connect to.
// Unspecified hosts are reached over loopback.
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// pickAddr selects the listen address for the next spawn: a bindable
// override first, then the previous instance's port, then a fresh bind of
// the configured listen address.
func (s *Supervisor) pickAddr(override string) (string, int, error) {
	if override != "" {
		addr, port, err := bindAddr(override)
		if err == nil {
			return addr, port, nil
		}
		s.log.Warn().Str("event", "override_addr_unavailable").Str("addr", override).Err(err).Msg("falling back to default listen address")
	}
	s.mu.RLock()
	last := s.lastPort
	s.mu.RUnlock()
	if last != 0 {
		return withPort(s.cfg.ListenAddr, last), last, nil
	}
	return bindAddr(s.cfg.ListenAddr)
}
