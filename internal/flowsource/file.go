package flowsource

import (
	"context"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/flowprobe/fprobe/internal/packet"
)

// FileSource reads packets from a pcap/pcapng capture file, adapted from
// internal/source/file/source.go: same pcap.OpenOffline/ReadPacketData
// lifecycle, generalized to decode straight into a packet.Descriptor
// instead of handing back raw bytes for a caller to decode itself.
type FileSource struct {
	path   string
	handle *pcap.Handle
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (fs *FileSource) Start(ctx context.Context) error {
	handle, err := pcap.OpenOffline(fs.path)
	if err != nil {
		return fmt.Errorf("flowsource: open %s: %w", fs.path, err)
	}
	fs.handle = handle
	return nil
}

func (fs *FileSource) Next(ctx context.Context) (*packet.Descriptor, error) {
	if fs.handle == nil {
		return nil, fmt.Errorf("flowsource: file source not started")
	}
	data, ci, err := fs.handle.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("flowsource: read packet: %w", err)
	}
	return decode(data, ci, fs.handle.LinkType())
}

func (fs *FileSource) Stop() error {
	if fs.handle != nil {
		fs.handle.Close()
		fs.handle = nil
	}
	return nil
}

// decode parses a raw packet's Ethernet/IP/TCP-or-UDP layers into a
// Descriptor. Anything beyond L4 (the payload) is handed through
// unparsed for process plugins to interpret.
func decode(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) (*packet.Descriptor, error) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	d := &packet.Descriptor{
		Timestamp:  ci.Timestamp,
		CaptureLen: ci.CaptureLength,
		WireLen:    ci.Length,
	}

	if vlan := pkt.Layer(layers.LayerTypeDot1Q); vlan != nil {
		d.VLAN = vlan.(*layers.Dot1Q).VLANIdentifier
	}

	switch {
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		d.IPVersion = 4
		copy(d.SrcIP[12:], ip4.SrcIP.To4())
		copy(d.DstIP[12:], ip4.DstIP.To4())
		d.Protocol = uint8(ip4.Protocol)
		d.TTL = ip4.TTL
		d.FragID = uint32(ip4.Id)
		d.FragOffset = ip4.FragOffset
		d.MoreFrags = ip4.Flags&layers.IPv4MoreFragments != 0
	case pkt.Layer(layers.LayerTypeIPv6) != nil:
		ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		d.IPVersion = 6
		copy(d.SrcIP[:], ip6.SrcIP.To16())
		copy(d.DstIP[:], ip6.DstIP.To16())
		d.Protocol = uint8(ip6.NextHeader)
		d.TTL = ip6.HopLimit
	default:
		return d, nil
	}

	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		d.SrcPort = uint16(t.SrcPort)
		d.DstPort = uint16(t.DstPort)
		d.SeqNum = t.Seq
		d.AckNum = t.Ack
		d.TCPFlags = tcpFlagByte(t)
		d.Payload = t.Payload
	} else if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		u := udp.(*layers.UDP)
		d.SrcPort = uint16(u.SrcPort)
		d.DstPort = uint16(u.DstPort)
		d.Payload = u.Payload
	}

	return d, nil
}

func tcpFlagByte(t *layers.TCP) uint8 {
	var flags uint8
	if t.FIN {
		flags |= 0x01
	}
	if t.SYN {
		flags |= 0x02
	}
	if t.RST {
		flags |= 0x04
	}
	if t.PSH {
		flags |= 0x08
	}
	if t.ACK {
		flags |= 0x10
	}
	if t.URG {
		flags |= 0x20
	}
	return flags
}
