package model

import (
	"encoding/json"
	"math"
)

// AppendMsgPack encodes the egress envelope using the same hand-rolled,
// zero-reflection MsgPack style as AggressiveTrade.AppendMsgPack: a small
// fixed-shape array per event kind, with the variable `Payload`/`Details`
// maps flattened to a JSON string rather than walked field-by-field —
// those maps are diagnostic detail for downstream consumers, not
// hot-path-decoded fields, so paying one json.Marshal per event to avoid
// a full generic MsgPack map encoder is the right trade.
func (e Event) AppendMsgPack(b []byte) []byte {
	b = append(b, 0x93) // fixarray(3): kind, tsMs, body
	b = appendStr(b, string(e.Kind))
	b = appendInt64(b, e.TsMs)
	switch e.Kind {
	case EventKindSignal:
		if e.Signal != nil {
			b = e.Signal.appendMsgPack(b)
			break
		}
		b = append(b, 0xc0)
	case EventKindAnomaly:
		if e.Anomaly != nil {
			b = e.Anomaly.appendMsgPack(b)
			break
		}
		b = append(b, 0xc0)
	case EventKindZone:
		if e.Zone != nil {
			b = e.Zone.appendMsgPack(b)
			break
		}
		b = append(b, 0xc0)
	default:
		b = append(b, 0xc0) // nil
	}
	return b
}

func (s SignalCandidate) appendMsgPack(b []byte) []byte {
	b = append(b, 0x98) // fixarray(8)
	b = appendStr(b, s.ID)
	b = appendStr(b, string(s.Type))
	b = appendStr(b, string(s.Side))
	b = appendInt64(b, int64(s.PriceTicks))
	b = appendFloat64(b, s.Confidence)
	b = appendInt64(b, s.TsMs)
	b = appendStr(b, s.CorrelationID)
	b = appendJSONMap(b, s.Payload)
	return b
}

func (a AnomalyEvent) appendMsgPack(b []byte) []byte {
	b = append(b, 0x98) // fixarray(8)
	b = appendStr(b, a.ID)
	b = appendStr(b, string(a.Type))
	b = appendStr(b, string(a.Severity))
	b = appendInt64(b, int64(a.PriceRangeAffected.Center))
	b = appendInt64(b, a.DetectedAtMs)
	b = appendStr(b, string(a.RecommendedAction))
	b = appendStr(b, a.CorrelationID)
	b = appendJSONMap(b, a.Details)
	return b
}

func (u ZoneUpdate) appendMsgPack(b []byte) []byte {
	b = append(b, 0x94) // fixarray(4)
	if u.Zone == nil {
		b = appendStr(b, "")
		b = append(b, 0xc0, 0xc0)
		b = appendStr(b, string(u.UpdateType))
		return b
	}
	b = appendStr(b, u.Zone.ID)
	b = appendInt64(b, int64(u.Zone.PriceRange.Center))
	b = appendFloat64(b, u.Zone.Strength)
	b = appendStr(b, string(u.UpdateType))
	return b
}

func appendStr(b []byte, s string) []byte {
	n := len(s)
	switch {
	case n < 32:
		b = append(b, 0xa0|byte(n))
	case n < 256:
		b = append(b, 0xd9, byte(n))
	default:
		b = append(b, 0xda, byte(n>>8), byte(n))
	}
	return append(b, s...)
}

func appendFloat64(b []byte, v float64) []byte {
	bits := math.Float64bits(v)
	b = append(b, 0xcb)
	return append(b, byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

func appendJSONMap(b []byte, m map[string]any) []byte {
	if m == nil {
		return appendStr(b, "{}")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return appendStr(b, "{}")
	}
	return appendStr(b, string(raw))
}
