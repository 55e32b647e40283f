// Package feed declares the messages pushed by the SMHI lightning feed.
//
// Every frame is one JSON object. Heartbeats carry countryCode "ZZ" and no
// position; anything else is a strike and is forwarded as received.
package feed

import (
	"encoding/json"

	"github.com/vinayprograms/thunderclient/errors"
)

// HeartbeatCountryCode marks a liveness-only message.
const HeartbeatCountryCode = "ZZ"

// Position is where a strike was detected.
type Position struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Proj string  `json:"proj"`
}

// Meta carries the strike measurements.
type Meta struct {
	PeakCurrent    float64 `json:"peakCurrent"`
	CloudIndicator int     `json:"cloudIndicator"`
}

// Strike is a single lightning strike.
type Strike struct {
	Time        string    `json:"time"`
	CountryCode string    `json:"countryCode"`
	Pos         *Position `json:"pos,omitempty"`
	Meta        *Meta     `json:"meta,omitempty"`

	// Raw is the frame the strike was decoded from.
	Raw json.RawMessage `json:"-"`
}

// Message is a decoded frame.
type Message struct {
	Strike
}

// IsHeartbeat reports whether the message is a heartbeat.
func (m *Message) IsHeartbeat() bool {
	return m.CountryCode == HeartbeatCountryCode
}

// Parse decodes one frame. Only JSON syntax is checked: any valid frame
// whose countryCode is not "ZZ" is a strike, whatever its shape. Fields
// that are missing or of an unexpected type are left zero; Raw always holds
// the frame as received.
func Parse(data []byte) (*Message, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parsing feed frame")
	}

	m := &Message{}
	m.Raw = append(json.RawMessage(nil), data...)

	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return m, nil
	}

	m.CountryCode = stringField(fields, "countryCode")
	m.Time = stringField(fields, "time")
	m.Pos = parsePosition(fields["pos"])
	m.Meta = parseMeta(fields["meta"])
	return m, nil
}

func parsePosition(data json.RawMessage) *Position {
	fields, ok := object(data)
	if !ok {
		return nil
	}
	return &Position{
		Lat:  numberField(fields, "lat"),
		Lon:  numberField(fields, "lon"),
		Proj: stringField(fields, "proj"),
	}
}

func parseMeta(data json.RawMessage) *Meta {
	fields, ok := object(data)
	if !ok {
		return nil
	}
	meta := &Meta{PeakCurrent: numberField(fields, "peakCurrent")}
	var ci int
	if json.Unmarshal(fields["cloudIndicator"], &ci) == nil {
		meta.CloudIndicator = ci
	}
	return meta
}

func object(data json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if json.Unmarshal(fields[key], &s) != nil {
		return ""
	}
	return s
}

func numberField(fields map[string]json.RawMessage, key string) float64 {
	var f float64
	if json.Unmarshal(fields[key], &f) != nil {
		return 0
	}
	return f
}
