package sandbox

import (
	"fmt"
	"net"
)

// ErrPortRangeExhausted is a hard failure — port allocation never blocks
// or retries internally, callers retry at the run level.
var ErrPortRangeExhausted = fmt.Errorf("sandbox: no free port in configured range")

// AllocatePort reuses the project's previously-bound port if it's still
// free, else scans [low, high], skipping ports any other project's runtime
// metadata claims and any port the OS refuses to bind.
func AllocatePort(hostRoot, projectID string, low, high int, priorPort int) (int, error) {
	taken := make(map[int]bool)
	for _, m := range allOtherRuntimes(hostRoot, projectID) {
		taken[m.HostPort] = true
	}

	if priorPort > 0 && !taken[priorPort] && canBind(priorPort) {
		return priorPort, nil
	}

	for p := low; p <= high; p++ {
		if taken[p] {
			continue
		}
		if canBind(p) {
			return p, nil
		}
	}
	return 0, ErrPortRangeExhausted
}

func canBind(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
