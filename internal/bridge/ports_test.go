package bridge

import (
	"net"
	"testing"
)

func TestPortAllocatorHandsOutEvenOddPairs(t *testing.T) {
	alloc, err := NewPortAllocator(21000, 8)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		rtp, rtcp := alloc.Next()
		if rtp%2 != 0 {
			t.Errorf("rtp port %d is odd", rtp)
		}
		if rtcp != rtp+1 {
			t.Errorf("rtcp port %d not adjacent to rtp %d", rtcp, rtp)
		}
		if seen[rtp] {
			t.Errorf("pair %d handed out twice before wrap", rtp)
		}
		seen[rtp] = true
	}

	// The range is exhausted; allocation wraps to the start.
	rtp, _ := alloc.Next()
	if rtp != 21000 {
		t.Errorf("after wrap rtp = %d, want 21000", rtp)
	}
}

func TestNewPortAllocatorRoundsOddBaseUp(t *testing.T) {
	alloc, err := NewPortAllocator(21001, 10)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}
	rtp, _ := alloc.Next()
	if rtp != 21002 {
		t.Errorf("rtp = %d, want even base 21002", rtp)
	}
}

func TestNewPortAllocatorRejectsBadRanges(t *testing.T) {
	if _, err := NewPortAllocator(100, 10); err == nil {
		t.Error("privileged base accepted")
	}
	if _, err := NewPortAllocator(65000, 10000); err == nil {
		t.Error("range past 65536 accepted")
	}
	if _, err := NewPortAllocator(21000, 1); err == nil {
		t.Error("span below one pair accepted")
	}
}

func TestValidatePortPairDetectsBusyPort(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind probe port: %v", err)
	}
	defer conn.Close()
	busy := conn.LocalAddr().(*net.UDPAddr).Port

	if err := ValidatePortPair("127.0.0.1", busy, busy); err == nil {
		t.Error("validation passed for a bound port")
	}
}
