package signaling

import "sync"

// ConnectionTracker enforces global and per-IP WebSocket connection caps.
// A cap of 0 disables that particular limit.
type ConnectionTracker struct {
	mu        sync.Mutex
	total     uint32
	perIP     map[string]uint32
	maxTotal  uint32
	maxPerIP  uint32
}

// NewConnectionTracker constructs a tracker with the given caps (0 =
// unlimited).
func NewConnectionTracker(maxTotal, maxPerIP uint32) *ConnectionTracker {
	return &ConnectionTracker{
		perIP:    make(map[string]uint32),
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
	}
}

// CanAccept reports whether a new connection from ip would currently be
// under both limits, without registering anything.
func (t *ConnectionTracker) CanAccept(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canAcceptLocked(ip)
}

func (t *ConnectionTracker) canAcceptLocked(ip string) bool {
	if t.maxTotal > 0 && t.total >= t.maxTotal {
		return false
	}
	if t.maxPerIP > 0 && t.perIP[ip] >= t.maxPerIP {
		return false
	}
	return true
}

// TryRegister registers a new connection from ip, returning false (without
// registering) if doing so would exceed either cap.
func (t *ConnectionTracker) TryRegister(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.canAcceptLocked(ip) {
		return false
	}
	t.total++
	t.perIP[ip]++
	return true
}

// Unregister releases a connection slot for ip, saturating at zero.
func (t *ConnectionTracker) Unregister(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.perIP[ip]; ok {
		if n <= 1 {
			delete(t.perIP, ip)
		} else {
			t.perIP[ip] = n - 1
		}
	}
	if t.total > 0 {
		t.total--
	}
}

// Total returns the current global connection count.
func (t *ConnectionTracker) Total() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
