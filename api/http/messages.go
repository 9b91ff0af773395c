package http

import (
	"net/http"

	"github.com/privmsg/relay/internal/timeutil"
	"github.com/privmsg/relay/relay"
	"github.com/privmsg/relay/relayerr"
)

// handleMessagesPending serves the spool's queued envelopes for the
// authenticated device. Timestamp is passed through exactly as the sender
// set it — clients may send either epoch-seconds or epoch-milliseconds, and
// this endpoint does not normalize the value, so a caller comparing it
// against another timestamp must detect the unit itself (timeutil.LooksLikeMillis).
// We log, but don't reject or rewrite, an envelope whose unit looks off so a
// misbehaving client shows up in the logs without costing anyone a message.
func (d Deps) handleMessagesPending(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	pending, err := d.Store.GetPending(auth.UserID, auth.DeviceID)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load pending messages", err))
		return
	}
	out := make([]relay.MessageEnvelope, 0, len(pending))
	for _, p := range pending {
		if !timeutil.LooksLikeMillis(p.Timestamp) {
			d.Logger.Debug("pending envelope timestamp looks like seconds, not millis",
				"message_id", p.MessageID, "timestamp", p.Timestamp)
		}
		out = append(out, relay.EnvelopeFromPending(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type ackRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type ackResponse struct {
	Acknowledged int `json:"acknowledged"`
}

func (d Deps) handleMessagesAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "malformed request body"))
		return
	}
	if err := d.Store.DeletePending(req.MessageIDs); err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to acknowledge messages", err))
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Acknowledged: len(req.MessageIDs)})
}
