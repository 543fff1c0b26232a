package flowsink

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/flowprobe/fprobe/internal/flowrecord"
)

// JSONFormatter serializes a flow record as a flat JSON object. Chosen in
// place of the dropped protobuf/SkyWalking wire format (DESIGN.md), and
// grounded on plugins/reporter/consolelog's JSON-capable reporter.
type JSONFormatter struct{}

type jsonRecord struct {
	SrcIP        string            `json:"src_ip"`
	DstIP        string            `json:"dst_ip"`
	SrcPort      uint16            `json:"src_port"`
	DstPort      uint16            `json:"dst_port"`
	Proto        uint8             `json:"proto"`
	VLAN         uint16            `json:"vlan,omitempty"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	PacketsToDst uint64            `json:"packets_to_dst"`
	BytesToDst   uint64            `json:"bytes_to_dst"`
	PacketsToSrc uint64            `json:"packets_to_src"`
	BytesToSrc   uint64            `json:"bytes_to_src"`
	EndReason    string            `json:"end_reason"`
	Extensions   map[string]string `json:"extensions,omitempty"`
}

func (JSONFormatter) Format(rec *flowrecord.Record) ([]byte, error) {
	jr := jsonRecord{
		SrcIP:        hex.EncodeToString(rec.Key.SrcIP[:]),
		DstIP:        hex.EncodeToString(rec.Key.DstIP[:]),
		SrcPort:      rec.Key.SrcPort,
		DstPort:      rec.Key.DstPort,
		Proto:        rec.Key.Proto,
		VLAN:         rec.Key.VLAN,
		FirstSeen:    rec.FirstSeen,
		LastSeen:     rec.LastSeen,
		PacketsToDst: rec.PacketsToDst,
		BytesToDst:   rec.BytesToDst,
		PacketsToSrc: rec.PacketsToSrc,
		BytesToSrc:   rec.BytesToSrc,
		EndReason:    rec.EndReason.String(),
	}
	if len(rec.Extensions) > 0 {
		jr.Extensions = make(map[string]string, len(rec.Extensions))
		for _, ext := range rec.Extensions {
			b, err := json.Marshal(ext)
			if err != nil {
				continue
			}
			jr.Extensions[ext.ExtensionName()] = string(b)
		}
	}
	return json.Marshal(jr)
}
