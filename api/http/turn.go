package http

import (
	"net/http"
	"time"

	"github.com/privmsg/relay/crypto/primitives"
)

type turnCredentialsResponse struct {
	URLs           []string `json:"urls"`
	Username       string   `json:"username"`
	Credential     string   `json:"credential"`
	CredentialType string   `json:"credential_type"`
	TTL            int      `json:"ttl"`
}

func (d Deps) handleTURNCredentials(w http.ResponseWriter, r *http.Request) {
	creds := primitives.MintTURNCredentials(d.Config.TURNUsername, d.Config.TURNCredential, d.Config.TURNTTL(), time.Now().UTC())
	writeJSON(w, http.StatusOK, turnCredentialsResponse{
		URLs:           d.Config.TURNURLs,
		Username:       creds.Username,
		Credential:     creds.Credential,
		CredentialType: d.Config.TURNCredentialType,
		TTL:            d.Config.TURNTTLSeconds,
	})
}
