// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_asterisk

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
)

// =============================================================================
// RTP QoS Reports
// =============================================================================

// Asterisk publishes per-leg RTP quality as ChannelVarset events at
// hangup: RTPAUDIOQOS plus its JITTER/LOSS/RTT variants, each encoded
// as a single "key=value;key=value;..." string.
const qosVarPrefix = "RTPAUDIOQOS"

// Channel variables reported alongside QoS that carry plain values.
var reportedVars = map[string]bool{
	"STASISSTATUS":    true,
	"BRIDGEPEER":      true,
	"BRIDGEPVTCALLID": true,
}

// QoSReport is the decoded RTPAUDIOQOS payload. All counters are
// cumulative for the channel's lifetime; "rx" is the remote leg as seen
// locally, "them" fields come from RTCP receiver reports.
type QoSReport struct {
	SSRC       uint32  `mapstructure:"ssrc"`
	ThemSSRC   uint32  `mapstructure:"themssrc"`
	LocalLost  float64 `mapstructure:"lp"`
	RxJitter   float64 `mapstructure:"rxjitter"`
	RxCount    uint64  `mapstructure:"rxcount"`
	TxJitter   float64 `mapstructure:"txjitter"`
	TxCount    uint64  `mapstructure:"txcount"`
	RemoteLost float64 `mapstructure:"rlp"`
	RTT        float64 `mapstructure:"rtt"`
}

// IsQoSVariable reports whether a ChannelVarset variable belongs to the
// hangup quality report family.
func IsQoSVariable(name string) bool {
	return strings.HasPrefix(name, qosVarPrefix) || reportedVars[name]
}

// ParseQoSReport decodes a "key=value;..." RTPAUDIOQOS value. Decoding
// is weakly typed: Asterisk renders every field as text and the exact
// field set varies across versions, so unknown keys are ignored.
func ParseQoSReport(value string) (*QoSReport, error) {
	fields := map[string]interface{}{}
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, internal_type.Protocolf("asterisk: malformed qos pair %q", pair)
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	var report QoSReport
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &report,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, internal_type.Contractf("asterisk: qos decoder: %v", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, internal_type.Protocolf("asterisk: qos decode: %v", err)
	}
	return &report, nil
}
