// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package voice

import (
	"github.com/pion/webrtc/v4"

	"github.com/conact/conact/messaging"
)

// ICEConfig holds the ICE servers a Room uses to reach the SFU.
type ICEConfig struct {
	// Servers is tried in order during candidate gathering.
	Servers []webrtc.ICEServer
}

// ICEConfigFromTURN converts the homeserver's TURN credentials into an
// ICEConfig. A nil response, or one without URIs, yields an empty
// config and the SFU's own ICE servers are used.
func ICEConfigFromTURN(turn *messaging.TURNCredentialsResponse) ICEConfig {
	if turn == nil || len(turn.URIs) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       turn.URIs,
				Username:   turn.Username,
				Credential: turn.Password,
			},
		},
	}
}
