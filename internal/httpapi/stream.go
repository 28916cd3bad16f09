package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// handleSubscribe streams collection snapshots as server-sent events until
// the client goes away.
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("live updates are disabled"))
		return
	}
	collection := r.URL.Query().Get("collection")
	query, err := a.service.SnapshotQuery(actorFrom(r), collection)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// streams outlive the server's write timeout
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn().Err(err).Msg("streaming unsupported by response writer")
		return
	}

	if a.metrics != nil {
		a.metrics.FeedSubscribers.Inc()
		defer a.metrics.FeedSubscribers.Dec()
	}

	ctx := r.Context()
	snapshots := a.hub.Subscribe(ctx, collection, query)
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				a.logger.Error().Err(err).Str("collection", collection).Msg("snapshot encode failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
