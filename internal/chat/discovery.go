package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeDiscoveryBody builds the body of a Control/Discover PDU: one
// "<onion_id> <port>" line per identified contact, excluding self. The
// sender's own identity is carried in the PDU headers and must not be
// repeated here.
func EncodeDiscoveryBody(contacts []Contact, self Identity) []byte {
	var b strings.Builder
	first := true

	for _, c := range contacts {
		if !c.Identified || c.Identity == self {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %d", c.Identity.OnionID, c.Identity.Port)
		first = false
	}

	return []byte(b.String())
}

// DecodeDiscoveryBody parses a Control/Discover body into the identities
// it announces. Empty lines are skipped so an empty body yields no
// entries.
func DecodeDiscoveryBody(body []byte) ([]Identity, error) {
	if len(body) == 0 {
		return nil, nil
	}

	lines := strings.Split(string(body), "\n")
	entries := make([]Identity, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}
		onionID, portRaw, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("discovery entry %q: %w", line, ErrProtocol)
		}
		port, err := strconv.ParseUint(portRaw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("discovery entry %q port: %w", line, ErrProtocol)
		}
		entries = append(entries, Identity{OnionID: onionID, Port: uint16(port)})
	}

	return entries, nil
}
