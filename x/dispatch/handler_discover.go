package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/affinidi/didcomm-mediator/x/didcomm"
)

// discoverableHeaders is the extra-header set this mediator advertises
// through Discover Features 2.0 (original_source discover_features.rs);
// return_route is the one it actually enforces (spec §6/§9).
var discoverableHeaders = []string{"return_route"}

// handleDiscoverFeatures answers a Discover Features 2.0 query with the
// protocol type URIs this dispatcher has handlers registered for, plus the
// mediator's discoverable headers. Goal codes are left empty: this
// mediator does not define any of its own.
func (d *Dispatcher) handleDiscoverFeatures(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body struct {
		ID      string                       `json:"id"`
		Queries []discoverFeaturesQueryEntry `json:"queries"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	protocols := make([]string, 0, len(d.handlers))
	for typeURI := range d.handlers {
		protocols = append(protocols, typeURI)
	}

	disclosures := make([]disclosureEntry, 0)
	for _, q := range body.Queries {
		var candidates []string
		switch q.FeatureType {
		case featureProtocol:
			candidates = protocols
		case featureHeader:
			candidates = discoverableHeaders
		case featureGoalCode:
			candidates = nil
		default:
			continue
		}
		for _, id := range matchFeatures(candidates, q.Match) {
			disclosures = append(disclosures, disclosureEntry{FeatureType: q.FeatureType, ID: id})
		}
	}

	return &Response{
		Type:     TypeDiscoverFeaturesDisclose,
		Body:     discoverFeaturesDiscloseBody{Disclosures: disclosures},
		ThreadID: body.ID,
	}, nil
}

// matchFeatures applies Discover Features 2.0's matching rules: a trailing
// "*" is a prefix wildcard, no "*" is an exact match, and a "*" anywhere
// else in the pattern is invalid and silently matches nothing (so a
// malformed query can never be used to fish for supported protocols).
func matchFeatures(candidates []string, pattern string) []string {
	prefix, isWildcard := strings.CutSuffix(pattern, "*")
	if isWildcard && strings.Contains(prefix, "*") {
		return nil
	}

	matched := make([]string, 0)
	for _, c := range candidates {
		if isWildcard {
			if strings.HasPrefix(c, prefix) {
				matched = append(matched, c)
			}
		} else if c == pattern {
			matched = append(matched, c)
		}
	}
	return matched
}
