package dns

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
	fplugin "github.com/flowprobe/fprobe/internal/plugin"
)

func serializeDNS(t *testing.T, msg *layers.DNS) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, msg))
	return buf.Bytes()
}

func dnsQuery(t *testing.T, name string) []byte {
	return serializeDNS(t, &layers.DNS{
		ID:      0x1234,
		OpCode:  layers.DNSOpCodeQuery,
		RD:      true,
		QDCount: 1,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
	})
}

func dnsResponse(t *testing.T, name string, ip net.IP) []byte {
	return serializeDNS(t, &layers.DNS{
		ID:           0x1234,
		QR:           true,
		OpCode:       layers.DNSOpCodeQuery,
		ResponseCode: layers.DNSResponseCodeNoErr,
		QDCount:      1,
		ANCount:      1,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
		Answers: []layers.DNSResourceRecord{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 300, IP: ip},
		},
	})
}

func queryPkt(payload []byte) *packet.Descriptor {
	return &packet.Descriptor{SrcPort: 51234, DstPort: dnsPort, Payload: payload}
}

func responsePkt(payload []byte) *packet.Descriptor {
	return &packet.Descriptor{SrcPort: dnsPort, DstPort: 51234, Payload: payload}
}

func TestPlugin_PostCreate_RecordsQueryName(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	p.PostCreate(rec, queryPkt(dnsQuery(t, "example.com")))

	ext, ok := rec.Extension("dns")
	require.True(t, ok)
	assert.Equal(t, "example.com", ext.(*Ext).QueryName)
}

func TestPlugin_PostUpdate_RecordsResponse(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	p.PostCreate(rec, queryPkt(dnsQuery(t, "example.com")))
	p.PostUpdate(rec, responsePkt(dnsResponse(t, "example.com", net.IPv4(93, 184, 216, 34))))

	ext, ok := rec.Extension("dns")
	require.True(t, ok)
	got := ext.(*Ext)
	assert.Equal(t, "example.com", got.QueryName)
	assert.Equal(t, "No Error", got.ResponseCode)
	require.Len(t, got.Answers, 1)
	assert.Equal(t, "93.184.216.34", got.Answers[0])
}

func TestPlugin_Inspect_IgnoresNonDNSPorts(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	p.PostCreate(rec, &packet.Descriptor{SrcPort: 443, DstPort: 8080, Payload: dnsQuery(t, "example.com")})

	_, ok := rec.Extension("dns")
	assert.False(t, ok, "traffic not on port 53 must not be inspected as DNS")
}

func TestPlugin_Inspect_IgnoresEmptyPayload(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	p.PostCreate(rec, queryPkt(nil))

	_, ok := rec.Extension("dns")
	assert.False(t, ok)
}

func TestPlugin_Inspect_MalformedPayloadIsNotFatal(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	verdict := p.PostCreate(rec, queryPkt([]byte{0x00, 0x01, 0x02}))

	assert.Equal(t, fplugin.OK, verdict)
	_, ok := rec.Extension("dns")
	assert.False(t, ok)
}

func TestPlugin_Inspect_DoesNotOverwriteFirstQueryName(t *testing.T) {
	p := New()
	rec := &flowrecord.Record{}

	p.PostCreate(rec, queryPkt(dnsQuery(t, "first.example.com")))
	p.PostUpdate(rec, queryPkt(dnsQuery(t, "second.example.com")))

	ext, ok := rec.Extension("dns")
	require.True(t, ok)
	assert.Equal(t, "first.example.com", ext.(*Ext).QueryName, "only the first observed query name is kept")
}
