package wsserver

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/mls-relay/pkg/types"
)

// clientFrame is the decoded form of one of the four client->relay NIP-01
// frame shapes: ["EVENT", <event>], ["REQ", <sub-id>, <filter>...],
// ["CLOSE", <sub-id>], ["AUTH", <event>].
type clientFrame struct {
	Verb    string
	Event   *types.Event
	SubID   string
	Filters []*types.Filter
}

// parseClientFrame decodes a raw inbound text frame into its typed form.
func parseClientFrame(raw []byte) (*clientFrame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var verb string
	if err := json.Unmarshal(parts[0], &verb); err != nil {
		return nil, fmt.Errorf("frame verb: %w", err)
	}

	switch verb {
	case "EVENT":
		if len(parts) != 2 {
			return nil, fmt.Errorf("EVENT frame must have exactly one payload element")
		}
		var e types.Event
		if err := json.Unmarshal(parts[1], &e); err != nil {
			return nil, fmt.Errorf("EVENT payload: %w", err)
		}
		return &clientFrame{Verb: verb, Event: &e}, nil

	case "AUTH":
		if len(parts) != 2 {
			return nil, fmt.Errorf("AUTH frame must have exactly one payload element")
		}
		var e types.Event
		if err := json.Unmarshal(parts[1], &e); err != nil {
			return nil, fmt.Errorf("AUTH payload: %w", err)
		}
		return &clientFrame{Verb: verb, Event: &e}, nil

	case "REQ":
		if len(parts) < 2 {
			return nil, fmt.Errorf("REQ frame must have a subscription id")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, fmt.Errorf("REQ subscription id: %w", err)
		}
		filters := make([]*types.Filter, 0, len(parts)-2)
		for _, raw := range parts[2:] {
			var f types.Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("REQ filter: %w", err)
			}
			filters = append(filters, &f)
		}
		if len(filters) == 0 {
			filters = append(filters, &types.Filter{})
		}
		return &clientFrame{Verb: verb, SubID: subID, Filters: filters}, nil

	case "CLOSE":
		if len(parts) != 2 {
			return nil, fmt.Errorf("CLOSE frame must have exactly one subscription id")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, fmt.Errorf("CLOSE subscription id: %w", err)
		}
		return &clientFrame{Verb: verb, SubID: subID}, nil

	default:
		return nil, fmt.Errorf("unknown frame verb %q", verb)
	}
}

func okFrame(eventID string, ok bool, reason string) []byte {
	b, _ := json.Marshal([]interface{}{"OK", eventID, ok, reason})
	return b
}

func eventFrame(subID string, e *types.Event) []byte {
	b, _ := json.Marshal([]interface{}{"EVENT", subID, e})
	return b
}

func eoseFrame(subID string) []byte {
	b, _ := json.Marshal([]interface{}{"EOSE", subID})
	return b
}

func closedFrame(subID, reason string) []byte {
	b, _ := json.Marshal([]interface{}{"CLOSED", subID, reason})
	return b
}

func noticeFrame(message string) []byte {
	b, _ := json.Marshal([]interface{}{"NOTICE", message})
	return b
}

func authChallengeFrame(challenge string) []byte {
	b, _ := json.Marshal([]interface{}{"AUTH", challenge})
	return b
}
