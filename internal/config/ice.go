package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const envICEServersJSON = "DROPMESH_ICE_SERVERS_JSON"

// DefaultSTUNURL is handed to clients when no ICE servers are configured.
// An explicit empty JSON list ("[]") disables it.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

var errICEServersNotList = errors.New("expected a JSON array of ice servers")

// defaultICEServers is what GET /webrtc/ice serves with no configuration.
func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}
}

// ParseICEServers decodes a list in the RTCIceServer shape browsers accept
// ({"urls": [...], "username": ..., "credential": ...}) and checks every URL
// with the STUN/TURN URI parser. Blank input yields the default list.
func ParseICEServers(raw string) ([]webrtc.ICEServer, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return defaultICEServers(), nil
	}
	if trimmed[0] != '[' {
		return nil, errICEServersNotList
	}

	var servers []webrtc.ICEServer
	if err := json.Unmarshal(trimmed, &servers); err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	for i, s := range servers {
		if err := checkICEServer(s); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
	}
	return servers, nil
}

// checkICEServer rejects servers a browser would refuse in RTCPeerConnection.
// TURN URLs need a username and a string credential.
func checkICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, raw := range s.URLs {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("url %q: %w", raw, err)
		}
		if uri.Scheme != stun.SchemeTypeTURN && uri.Scheme != stun.SchemeTypeTURNS {
			continue
		}
		if s.Username == "" {
			return fmt.Errorf("url %q: turn requires username", raw)
		}
		if cred, ok := s.Credential.(string); !ok || cred == "" {
			return fmt.Errorf("url %q: turn requires credential", raw)
		}
	}
	return nil
}
