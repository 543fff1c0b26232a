package quic

import "fmt"

// ReassembleCrypto walks the decrypted Initial payload's frame sequence
// and concatenates every CRYPTO frame's data into a single offset-ordered
// buffer, skipping PADDING/PING/ACK/CONNECTION_CLOSE frames along the way.
// Grounded on quic_reassemble_frames and its per-frame-type skip helpers
// (quic_skip_ack1/2, quic_skip_connection_close1/2).
func ReassembleCrypto(payload []byte) ([]byte, error) {
	var out []byte
	off := 0
	for off < len(payload) {
		ft := frameType(payload[off])
		off++

		switch ft {
		case frameTypePadding, frameTypePing:
			continue
		case frameTypeCrypto:
			data, err := copyCryptoFrame(payload, &off, &out)
			if err != nil {
				return nil, err
			}
			_ = data
		case frameTypeACK1, frameTypeACK2:
			if err := skipACK(payload, &off, ft); err != nil {
				return nil, err
			}
		case frameTypeConnectionClose1, frameTypeConnectionClose2:
			if err := skipConnectionClose(payload, &off, ft); err != nil {
				return nil, err
			}
		default:
			// Unknown/unsupported frame type for an Initial packet: stop
			// reassembly here rather than guess a length, matching the
			// original's conservative bail-out.
			return out, nil
		}
	}
	return out, nil
}

func copyCryptoFrame(payload []byte, off *int, out *[]byte) ([]byte, error) {
	offset, ok := readVarint(payload, off)
	if !ok {
		return nil, fmt.Errorf("quic: truncated CRYPTO frame offset")
	}
	length, ok := readVarint(payload, off)
	if !ok {
		return nil, fmt.Errorf("quic: truncated CRYPTO frame length")
	}
	if *off+int(length) > len(payload) {
		return nil, fmt.Errorf("quic: CRYPTO frame data overruns payload")
	}
	data := payload[*off : *off+int(length)]
	*off += int(length)

	end := int(offset) + len(data)
	if end > maxCryptoBufferLen {
		return nil, fmt.Errorf("quic: CRYPTO reassembly offset+length %d exceeds %d-byte buffer", end, maxCryptoBufferLen)
	}
	if end > len(*out) {
		grown := make([]byte, end)
		copy(grown, *out)
		*out = grown
	}
	copy((*out)[offset:], data)
	return data, nil
}

func skipACK(payload []byte, off *int, ft frameType) error {
	if _, ok := readVarint(payload, off); !ok { // largest acknowledged
		return fmt.Errorf("quic: truncated ACK frame")
	}
	if _, ok := readVarint(payload, off); !ok { // ACK delay
		return fmt.Errorf("quic: truncated ACK frame")
	}
	rangeCount, ok := readVarint(payload, off)
	if !ok {
		return fmt.Errorf("quic: truncated ACK frame")
	}
	if _, ok := readVarint(payload, off); !ok { // first ACK range
		return fmt.Errorf("quic: truncated ACK frame")
	}
	for i := uint64(0); i < rangeCount; i++ {
		if _, ok := readVarint(payload, off); !ok {
			return fmt.Errorf("quic: truncated ACK range gap")
		}
		if _, ok := readVarint(payload, off); !ok {
			return fmt.Errorf("quic: truncated ACK range length")
		}
	}
	if ft == frameTypeACK2 {
		for i := 0; i < 3; i++ {
			if _, ok := readVarint(payload, off); !ok {
				return fmt.Errorf("quic: truncated ECN counts")
			}
		}
	}
	return nil
}

func skipConnectionClose(payload []byte, off *int, ft frameType) error {
	if _, ok := readVarint(payload, off); !ok { // error code
		return fmt.Errorf("quic: truncated CONNECTION_CLOSE frame")
	}
	if ft == frameTypeConnectionClose1 {
		if _, ok := readVarint(payload, off); !ok { // frame type
			return fmt.Errorf("quic: truncated CONNECTION_CLOSE frame")
		}
	}
	reasonLen, ok := readVarint(payload, off)
	if !ok {
		return fmt.Errorf("quic: truncated CONNECTION_CLOSE reason length")
	}
	if *off+int(reasonLen) > len(payload) {
		return fmt.Errorf("quic: CONNECTION_CLOSE reason overruns payload")
	}
	*off += int(reasonLen)
	return nil
}
