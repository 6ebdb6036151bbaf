package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/dentaldesk/internal/monitoring"
)

// QueueLength reports how many writes wait for replay.
type QueueLength interface {
	Len(ctx context.Context) (int, error)
}

// PendingWrites degrades readiness once the deferred write backlog reaches
// threshold. A threshold of zero only reports the count.
func PendingWrites(queue QueueLength, threshold int) monitoring.Check {
	return monitoring.NewCheck("pending_writes", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if queue == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "write queue disabled"}
		}

		n, err := queue.Len(ctx)
		if err != nil {
			return monitoring.ResultFromError("pending_writes", err, time.Since(start))
		}

		status := monitoring.StatusUp
		if threshold > 0 && n >= threshold {
			status = monitoring.StatusDegraded
		}
		return monitoring.ProbeResult{
			Status:   status,
			Details:  fmt.Sprintf("%d queued", n),
			Duration: time.Since(start),
		}
	})
}

// ConnectionCounter exposes the realtime hub's client count.
type ConnectionCounter interface {
	Connections() int
}

// Realtime is a liveness probe reporting connected realtime clients.
func Realtime(hub ConnectionCounter) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		if hub == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d clients", hub.Connections()),
		}
	})
}
