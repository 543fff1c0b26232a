package quic

import (
	"encoding/hex"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
	fplugin "github.com/flowprobe/fprobe/internal/plugin"
)

// Ext is the extension attached to a flow record once its QUIC traffic
// has been observed. It is created by the first successfully decrypted
// Initial packet, whose ClientHello populates every field once;
// PacketTypes/ZeroRTTCount then accumulate across the long-header packets
// seen after that. Packets before that Initial are not counted.
type Ext struct {
	Version   uint32
	SNI       string
	UserAgent string
	ALPN      []string

	// TLSExtensions is every (type, length) pair observed in the
	// ClientHello's extension block, including ones this parser does not
	// otherwise decode.
	TLSExtensions []TLSExtension

	// TokenLength is the Initial packet's token length field (0 for a
	// first-flight ClientHello with no Retry token).
	TokenLength uint64
	// OCID is the hex-encoded source connection ID the client chose for
	// itself in the parsed Initial packet's header.
	OCID string
	// OSCID is the hex-encoded destination connection ID the client's
	// Initial packet targeted.
	OSCID string
	// ParsedCH reports whether a ClientHello was successfully decrypted
	// and parsed out of this flow's Initial packet.
	ParsedCH bool

	// PacketTypes is the bitwise-OR of every long-header packet type
	// (FlagInitial/FlagHandshake/FlagZeroRTT/FlagRetry/
	// FlagVersionNegotiation) observed for this flow since the extension
	// was created.
	PacketTypes uint8
	// ZeroRTTCount counts 0-RTT packets observed in the flow.
	ZeroRTTCount uint32
}

func (Ext) ExtensionName() string { return "quic" }

// Plugin is the QUIC process plugin: the exemplar ProcessPlugin
// implementation, attempting decryption of every Initial packet of a UDP
// flow until one succeeds; the number of attempts per flow is not capped.
type Plugin struct {
	fplugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() fplugin.Metadata {
	return fplugin.Metadata{Name: "quic"}
}

func (p *Plugin) PostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) fplugin.Verdict {
	p.observe(rec, pkt)
	return fplugin.OK
}

func (p *Plugin) PostUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) fplugin.Verdict {
	p.observe(rec, pkt)
	return fplugin.OK
}

// observe updates a flow's QUIC extension from one packet: the first
// Initial packet that decrypts successfully creates the extension, and
// every long-header packet after that contributes its type to
// PacketTypes/ZeroRTTCount.
func (p *Plugin) observe(rec *flowrecord.Record, pkt *packet.Descriptor) {
	if pkt.Protocol != 17 { // UDP only
		return
	}

	flag, isLongHeader := classifyPacketType(pkt.Payload)

	if ext, found := findExt(rec); found {
		if isLongHeader {
			ext.PacketTypes |= flag
			if flag == FlagZeroRTT {
				ext.ZeroRTTCount++
			}
		}
		return // this flow's Initial ClientHello was already parsed
	}

	if flag != FlagInitial {
		return // nothing to decrypt yet
	}

	ext := tryParseInitial(pkt.Payload)
	if ext == nil {
		return
	}
	rec.Extensions = append(rec.Extensions, ext)
}

func findExt(rec *flowrecord.Record) (*Ext, bool) {
	for _, e := range rec.Extensions {
		if ext, ok := e.(*Ext); ok {
			return ext, true
		}
	}
	return nil, false
}

// classifyPacketType reads just enough of a packet to report its
// long-header type, without decrypting or fully parsing it.
func classifyPacketType(buf []byte) (flag uint8, isLongHeader bool) {
	if len(buf) < 5 || buf[0]&0x80 == 0 {
		return 0, false
	}
	version := uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])
	if version == versionNegotiation {
		return FlagVersionNegotiation, true
	}
	switch (buf[0] & 0x30) >> 4 {
	case 0:
		return FlagInitial, true
	case 1:
		return FlagZeroRTT, true
	case 2:
		return FlagHandshake, true
	case 3:
		return FlagRetry, true
	default:
		return 0, false
	}
}

func tryParseInitial(payload []byte) *Ext {
	// TryParseInitial removes header protection in place, so each attempt
	// works on its own copy and the packet payload is left untouched.
	info, h, version, ok := TryParseInitial(append([]byte(nil), payload...), true)
	if !ok {
		info, h, version, ok = TryParseInitial(append([]byte(nil), payload...), false)
	}
	if !ok {
		return nil
	}
	return &Ext{
		Version:       version,
		SNI:           info.SNI,
		UserAgent:     info.UserAgent,
		ALPN:          info.ALPN,
		TLSExtensions: info.Extensions,
		TokenLength:   h.TokenLen,
		OCID:          hex.EncodeToString(h.SCID),
		OSCID:         hex.EncodeToString(h.DCID),
		ParsedCH:      true,
		PacketTypes:   FlagInitial,
	}
}

// TryParseInitial runs the full Initial-packet pipeline (header parse,
// header protection removal, AEAD decryption, CRYPTO reassembly, TLS
// ClientHello walk) over one UDP payload, from the perspective of either
// the client (isClient=true, decrypting with client-direction keys, the
// common case since flow exporters observe client-sent Initials) or the
// server. Returns ok=false for anything that isn't a parseable QUIC v1/v2
// Initial packet: malformed input is reported as "unparsed", not an
// error, and never aborts the flow.
func TryParseInitial(buf []byte, isClient bool) (*ClientHelloInfo, *LongHeader, uint32, bool) {
	if len(buf) < 7 || buf[0]&0x80 == 0 {
		return nil, nil, 0, false
	}
	h, err := ParseLongHeader(buf)
	if err != nil {
		return nil, nil, 0, false
	}
	if !IsInitial(h.FirstByte, h.Version) {
		return nil, nil, 0, false
	}

	secrets, err := deriveInitialSecrets(h.DCID, h.Version, isClient)
	if err != nil {
		return nil, nil, 0, false
	}

	pn, pnLen, err := h.RemoveProtection(buf, secrets.hp)
	if err != nil {
		return nil, nil, 0, false
	}

	plaintext, err := DecryptPayload(secrets, buf, h, pn, pnLen)
	if err != nil {
		return nil, nil, 0, false
	}

	crypto, err := ReassembleCrypto(plaintext)
	if err != nil || len(crypto) == 0 {
		return nil, nil, 0, false
	}

	info, err := ParseClientHello(crypto)
	if err != nil {
		return nil, nil, 0, false
	}
	return info, h, h.Version, true
}
