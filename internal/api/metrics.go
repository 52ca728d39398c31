package api

import (
	"fmt"
	"net/http"

	"github.com/ver-mac/DRM-VerMap/internal/poller"
)

// PollersResponse is the response for GET /api/pollers.
type PollersResponse struct {
	Count   int                 `json:"count"`
	Pollers []poller.TaskStatus `json:"pollers"`
}

// Pollers godoc
//
//	@Summary		List poll tasks
//	@Description	Returns a snapshot of every poll task the supervisor knows, including
//	@Description	state, cursor position, and failure streaks.
//	@Tags			operations
//	@Produce		json
//	@Success		200	{object}	PollersResponse
//	@Router			/api/pollers [get]
func (h *Handler) Pollers(w http.ResponseWriter, r *http.Request) {
	statuses := h.supervisor.Status()
	if statuses == nil {
		statuses = []poller.TaskStatus{}
	}
	writeJSON(w, http.StatusOK, PollersResponse{Count: len(statuses), Pollers: statuses})
}

// Metrics serves poller and broker counters in the Prometheus text
// exposition format.
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	stats := h.broker.Stats()
	statuses := h.supervisor.Status()

	running := 0
	var cycles int64
	for _, st := range statuses {
		if st.Running {
			running++
		}
		cycles += st.Cycles
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP vermap_broker_channels Channels with at least one subscriber.\n")
	fmt.Fprintf(w, "# TYPE vermap_broker_channels gauge\n")
	fmt.Fprintf(w, "vermap_broker_channels %d\n", stats.Channels)

	fmt.Fprintf(w, "# HELP vermap_broker_subscribers Currently connected subscribers.\n")
	fmt.Fprintf(w, "# TYPE vermap_broker_subscribers gauge\n")
	fmt.Fprintf(w, "vermap_broker_subscribers %d\n", stats.Subscribers)

	fmt.Fprintf(w, "# HELP vermap_broker_published_total Updates published to the broker.\n")
	fmt.Fprintf(w, "# TYPE vermap_broker_published_total counter\n")
	fmt.Fprintf(w, "vermap_broker_published_total %d\n", stats.Published)

	fmt.Fprintf(w, "# HELP vermap_broker_dropped_total Pending updates evicted from full subscriber buffers.\n")
	fmt.Fprintf(w, "# TYPE vermap_broker_dropped_total counter\n")
	fmt.Fprintf(w, "vermap_broker_dropped_total %d\n", stats.Dropped)

	fmt.Fprintf(w, "# HELP vermap_poller_tasks Poll tasks known to the supervisor.\n")
	fmt.Fprintf(w, "# TYPE vermap_poller_tasks gauge\n")
	fmt.Fprintf(w, "vermap_poller_tasks %d\n", len(statuses))

	fmt.Fprintf(w, "# HELP vermap_poller_tasks_running Poll tasks currently running.\n")
	fmt.Fprintf(w, "# TYPE vermap_poller_tasks_running gauge\n")
	fmt.Fprintf(w, "vermap_poller_tasks_running %d\n", running)

	fmt.Fprintf(w, "# HELP vermap_poller_cycles_total Completed poll cycles across all tasks.\n")
	fmt.Fprintf(w, "# TYPE vermap_poller_cycles_total counter\n")
	fmt.Fprintf(w, "vermap_poller_cycles_total %d\n", cycles)

	fmt.Fprintf(w, "# HELP vermap_poller_consecutive_failures Consecutive failed cycles per channel.\n")
	fmt.Fprintf(w, "# TYPE vermap_poller_consecutive_failures gauge\n")
	for _, st := range statuses {
		fmt.Fprintf(w, "vermap_poller_consecutive_failures{channel=%q} %d\n", st.Channel, st.Failures)
	}
}
