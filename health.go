package sigberry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	// Name is the name of the check.
	Name string `json:"name"`

	// Healthy indicates whether the check passed.
	Healthy bool `json:"healthy"`

	// Message provides additional context about the check result.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HealthStatus represents the overall health status of the node.
type HealthStatus struct {
	// Healthy indicates whether all checks passed.
	Healthy bool `json:"healthy"`

	// Checks contains the results of individual checks.
	Checks []CheckResult `json:"checks"`

	// Timestamp is when the health check was performed.
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy returns true if the node is healthy and ready to handle requests.
// A node is considered healthy if:
//   - The node is started and not stopped
//   - The libp2p host is running
//   - The swarm driver is running
//
// This is a quick check suitable for liveness checks.
func (n *Node) IsHealthy() bool {
	if n.checkRunning() != nil {
		return false
	}

	// Check that host is accessible
	if n.host == nil || n.host.LibP2PHost() == nil {
		return false
	}

	return n.swarm != nil && n.swarm.Running()
}

// ReadinessChecks performs detailed health checks and returns the results.
// This is suitable for readiness checks and debugging.
//
// Checks performed:
//   - node_started: Whether the node has been started
//   - host_running: Whether the libp2p host is running
//   - swarm_running: Whether the signaling driver is running
//   - command_backlog: Whether senders are currently blocked
//   - connections: Whether there are active connections (informational)
func (n *Node) ReadinessChecks() HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		Checks:    make([]CheckResult, 0, 5),
		Timestamp: time.Now(),
	}

	// Check 1: Node started
	start := time.Now()
	started := n.checkRunning() == nil
	status.Checks = append(status.Checks, CheckResult{
		Name:     "node_started",
		Healthy:  started,
		Message:  boolToMessage(started, "node is running", "node is not running"),
		Duration: time.Since(start),
	})
	if !started {
		status.Healthy = false
	}

	// Check 2: Host running
	start = time.Now()
	hostOK := n.host != nil && n.host.LibP2PHost() != nil
	status.Checks = append(status.Checks, CheckResult{
		Name:     "host_running",
		Healthy:  hostOK,
		Message:  boolToMessage(hostOK, "libp2p host is running", "libp2p host is not available"),
		Duration: time.Since(start),
	})
	if !hostOK {
		status.Healthy = false
	}

	// Check 3: Swarm running
	start = time.Now()
	swarmOK := n.swarm != nil && n.swarm.Running()
	status.Checks = append(status.Checks, CheckResult{
		Name:     "swarm_running",
		Healthy:  swarmOK,
		Message:  boolToMessage(swarmOK, "signaling driver is running", "signaling driver is not running"),
		Duration: time.Since(start),
	})
	if !swarmOK {
		status.Healthy = false
	}

	// Check 4: Senders not held back by the command backlog
	start = time.Now()
	backlog, limit, saturated := 0, DefaultCommandHighWatermark, false
	if n.swarm != nil {
		backlog, saturated = n.swarm.Backlog(), n.swarm.Saturated()
	}
	if n.config != nil {
		limit = n.config.CommandHighWatermark
	}
	backlogOK := !saturated
	status.Checks = append(status.Checks, CheckResult{
		Name:     "command_backlog",
		Healthy:  backlogOK,
		Message:  fmt.Sprintf("%d of %d commands pending", backlog, limit),
		Duration: time.Since(start),
	})
	if !backlogOK {
		status.Healthy = false
	}

	// Check 5: Connection info (informational, doesn't affect health)
	start = time.Now()
	connMsg := "no active connections"
	if hostOK {
		if connCount := len(n.host.ConnectedPeers()); connCount > 0 {
			connMsg = fmt.Sprintf("connected to %d peers, %d speak signaling",
				connCount, len(n.host.SignalingPeers()))
		}
	}
	status.Checks = append(status.Checks, CheckResult{
		Name:     "connections",
		Healthy:  true, // This is informational only
		Message:  connMsg,
		Duration: time.Since(start),
	})

	return status
}

// boolToMessage returns trueMsg if b is true, otherwise falseMsg.
func boolToMessage(b bool, trueMsg, falseMsg string) string {
	if b {
		return trueMsg
	}
	return falseMsg
}

// HealthHandler returns an http.Handler that serves health check responses.
// The handler responds with:
//   - 200 OK if the node is healthy
//   - 503 Service Unavailable if the node is unhealthy
//
// The response body contains a JSON representation of HealthStatus.
//
// Example usage:
//
//	http.Handle("/health", sigberry.HealthHandler(node))
func HealthHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := node.ReadinessChecks()

		w.Header().Set("Content-Type", "application/json")
		if status.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(status)
	})
}

// LivenessHandler returns an http.Handler that serves liveness check responses.
// This is a quick check that returns:
//   - 200 OK if the node is alive
//   - 503 Service Unavailable if the node is not alive
//
// Unlike HealthHandler, this does not perform detailed checks.
//
// Example usage:
//
//	http.Handle("/live", sigberry.LivenessHandler(node))
func LivenessHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthy := node.IsHealthy()

		w.Header().Set("Content-Type", "application/json")
		if healthy {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"healthy":true}`))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"healthy":false}`))
		}
	})
}
