package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// StreamHandler serves a learner's live events over a websocket. The
// learner id is taken from the {id} path value.
func StreamHandler(bus *Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		learnerID := r.PathValue("id")
		if learnerID == "" {
			http.Error(w, "learner id is required", http.StatusBadRequest)
			return
		}

		// Subscribe before the handshake completes so no event published
		// after the client connects is missed.
		ch, cancel := bus.Subscribe(learnerID)
		defer cancel()

		// The server's write timeout would otherwise cut long-lived streams.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("websocket accept failed", "learner_id", learnerID, "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())
		slog.Info("event stream opened", "learner_id", learnerID)

		for {
			select {
			case <-ctx.Done():
				slog.Info("event stream closed", "learner_id", learnerID)
				return
			case e, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "stream ended")
					return
				}
				if err := writeEvent(ctx, conn, e); err != nil {
					slog.Warn("event stream write failed", "learner_id", learnerID, "error", err)
					return
				}
			}
		}
	})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
