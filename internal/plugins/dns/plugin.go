// Package dns is a supplementary enrichment ProcessPlugin attaching the
// first query name and response code of DNS traffic on port 53 to a flow
// record. Grounded on gopacket/layers.DNS; gopacket is already used for
// packet capture by internal/flowsource's use of gopacket/pcap.
package dns

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
	fplugin "github.com/flowprobe/fprobe/internal/plugin"
)

const dnsPort = 53

// Ext carries the enrichment a completed DNS exchange contributes to a
// flow record.
type Ext struct {
	QueryName  string
	ResponseCode string
	Answers      []string
}

func (Ext) ExtensionName() string { return "dns" }

type Plugin struct {
	fplugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() fplugin.Metadata { return fplugin.Metadata{Name: "dns"} }

func (p *Plugin) PostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) fplugin.Verdict {
	p.inspect(rec, pkt)
	return fplugin.OK
}

func (p *Plugin) PostUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) fplugin.Verdict {
	p.inspect(rec, pkt)
	return fplugin.OK
}

func (p *Plugin) inspect(rec *flowrecord.Record, pkt *packet.Descriptor) {
	if pkt.SrcPort != dnsPort && pkt.DstPort != dnsPort {
		return
	}
	if len(pkt.Payload) == 0 {
		return
	}

	var msg layers.DNS
	if err := msg.DecodeFromBytes(pkt.Payload, gopacket.NilDecodeFeedback); err != nil {
		return // malformed DNS payload; not fatal to the flow, just skip
	}

	ext, found := findExt(rec)
	if !found {
		ext = &Ext{}
		rec.Extensions = append(rec.Extensions, ext)
	}

	if ext.QueryName == "" && len(msg.Questions) > 0 {
		ext.QueryName = string(msg.Questions[0].Name)
	}
	if msg.QR { // response
		ext.ResponseCode = msg.ResponseCode.String()
		for _, a := range msg.Answers {
			if a.IP != nil {
				ext.Answers = append(ext.Answers, a.IP.String())
			}
		}
	}
}

func findExt(rec *flowrecord.Record) (*Ext, bool) {
	for _, e := range rec.Extensions {
		if ext, ok := e.(*Ext); ok {
			return ext, true
		}
	}
	return nil, false
}
