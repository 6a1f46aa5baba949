package tether

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/wire"
)

// newHubID generates random identity. Hub gets new identity every time process starts, so peers
// detect restarts by comparing identities received in handshakes.
func newHubID() (wire.PeerID, error) {
	var id wire.PeerID
	if _, err := rand.Read(id[:]); err != nil {
		return wire.PeerID{}, errors.WithStack(err)
	}
	return id, nil
}

func peerIDString(id wire.PeerID) string {
	return hex.EncodeToString(id[:])
}
