package bridge

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out consecutive even/odd UDP port pairs for RTP and
// RTCP from a fixed range. Allocation is monotonic and wraps around; the
// caller validates availability and retries, so a pair still held by a live
// session or another process simply costs one attempt.
type PortAllocator struct {
	mu   sync.Mutex
	base int
	span int
	next int
}

// NewPortAllocator covers ports [base, base+span). base is rounded up to an
// even port so RTP always lands on the even half of a pair.
func NewPortAllocator(base, span int) (*PortAllocator, error) {
	if base%2 != 0 {
		base++
	}
	if base < 1024 || base > 65000 {
		return nil, fmt.Errorf("port base %d out of range", base)
	}
	if span < 2 || base+span > 65536 {
		return nil, fmt.Errorf("port span %d out of range for base %d", span, base)
	}
	return &PortAllocator{base: base, span: span}, nil
}

// Next returns the next candidate pair: rtp on an even port, rtcp on rtp+1.
func (a *PortAllocator) Next() (rtp, rtcp int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rtp = a.base + a.next
	a.next += 2
	if a.next >= a.span {
		a.next = 0
	}
	return rtp, rtp + 1
}

// ValidatePortPair checks both ports are bindable right now by taking and
// releasing throwaway UDP sockets. The check is advisory: the engine binds
// its own sockets remotely and the transcoder binds locally only when it
// starts reading, so a race window remains, but it catches pairs already in
// use by other processes.
func ValidatePortPair(ip string, rtp, rtcp int) error {
	for _, port := range []int{rtp, rtcp} {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
		if err != nil {
			return fmt.Errorf("udp port %d unavailable: %w", port, err)
		}
		conn.Close()
	}
	return nil
}
