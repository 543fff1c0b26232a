package quic

import "fmt"

// ClientHelloInfo holds the fields a flow record's QUIC extension cares
// about, extracted from the reassembled CRYPTO stream's TLS ClientHello.
// Grounded on quic_parse_tls/quic_obtain_tls_data's extension walk.
type ClientHelloInfo struct {
	SNI        string
	UserAgent  string
	ALPN       []string
	Extensions []TLSExtension
}

// TLSExtension is one (type, length) pair observed in the ClientHello's
// extension block, recorded for every extension regardless of whether
// this parser decodes its contents.
type TLSExtension struct {
	Type   uint16
	Length uint16
}

// ParseClientHello walks a TLS 1.3 ClientHello handshake message (already
// stripped of the outer TLS record layer by the caller, since QUIC's
// CRYPTO frames carry only the handshake message) and extracts SNI, ALPN
// and the Google QUIC user-agent extension if present. This is
// intentionally not a general TLS parser: only the extensions ipfixprobe
// itself reads are understood; anything else is skipped by length.
func ParseClientHello(data []byte) (*ClientHelloInfo, error) {
	// Handshake header: type(1) + length(3)
	if len(data) < 4 || data[0] != 0x01 {
		return nil, fmt.Errorf("quic: not a ClientHello handshake message")
	}
	off := 4

	// legacy_version(2) + random(32)
	off += 2 + 32
	if off >= len(data) {
		return nil, fmt.Errorf("quic: truncated ClientHello")
	}

	// legacy_session_id
	sessIDLen := int(data[off])
	off += 1 + sessIDLen

	// cipher_suites
	if off+2 > len(data) {
		return nil, fmt.Errorf("quic: truncated ClientHello cipher suites")
	}
	csLen := int(data[off])<<8 | int(data[off+1])
	off += 2 + csLen

	// legacy_compression_methods
	if off >= len(data) {
		return nil, fmt.Errorf("quic: truncated ClientHello compression methods")
	}
	compLen := int(data[off])
	off += 1 + compLen

	if off+2 > len(data) {
		// No extensions present.
		return &ClientHelloInfo{}, nil
	}
	extTotalLen := int(data[off])<<8 | int(data[off+1])
	off += 2
	end := off + extTotalLen
	if end > len(data) {
		end = len(data)
	}

	info := &ClientHelloInfo{}
	for off+4 <= end {
		extType := int(data[off])<<8 | int(data[off+1])
		extLen := int(data[off+2])<<8 | int(data[off+3])
		off += 4
		if off+extLen > end {
			break
		}
		extData := data[off : off+extLen]
		off += extLen

		info.Extensions = append(info.Extensions, TLSExtension{Type: uint16(extType), Length: uint16(extLen)})

		switch extType {
		case extServerName:
			info.SNI = parseServerName(extData)
		case extALPN:
			info.ALPN = parseALPN(extData)
		case extGoogleUserAgent:
			info.UserAgent = string(extData)
		case extQUICTransportParamsV1, extQUICTransportParamsLegacy, extQUICTransportParamsV2Old:
			// Transport parameters are present but not decoded: the
			// extension only needs to be recognized and skipped, not
			// the individual parameters.
		}
	}
	return info, nil
}

func parseServerName(data []byte) string {
	// server_name_list: 2-byte length, then entries of
	// {type(1)=host_name, length(2), name}.
	if len(data) < 2 {
		return ""
	}
	off := 2
	for off+3 <= len(data) {
		nameType := data[off]
		nameLen := int(data[off+1])<<8 | int(data[off+2])
		off += 3
		if off+nameLen > len(data) {
			break
		}
		if nameType == 0 {
			return string(data[off : off+nameLen])
		}
		off += nameLen
	}
	return ""
}

func parseALPN(data []byte) []string {
	if len(data) < 2 {
		return nil
	}
	off := 2
	var protos []string
	for off < len(data) {
		l := int(data[off])
		off++
		if off+l > len(data) {
			break
		}
		protos = append(protos, string(data[off:off+l]))
		off += l
	}
	return protos
}
