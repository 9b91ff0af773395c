package http

import (
	"net/http"

	"github.com/privmsg/relay/realtime/ws"
	"github.com/privmsg/relay/relay"
)

// wsReadBufferSize/wsWriteBufferSize are conservative defaults; the relay's
// frames are small JSON envelopes, not bulk data, so tuning beyond this
// isn't warranted.
const (
	wsReadBufferSize  = 4 << 10
	wsWriteBufferSize = 4 << 10
	wsMaxFrameBytes   = 1 << 20
)

// handleWS upgrades the request to a websocket and hands it off to a fresh
// relay.Session, which owns the connection for its entire lifetime: origin
// is checked against the configured allow-list, a read-size cap is applied,
// and then this handler blocks in Session.Run until the connection closes.
func (d Deps) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     d.upgraderOriginChecker(),
	})
	if err != nil {
		d.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	session := relay.New(conn, relay.Deps{
		Store:    d.Store,
		Registry: d.Registry,
		Observer: d.Observer,
		Logger:   d.Logger,
	}, d.sessionConfig())

	session.Run(r.Context())
}
