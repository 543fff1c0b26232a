package quic

import "fmt"

// DecryptPayload AEAD-decrypts the Initial packet payload, grounded on
// quic_decrypt_payload: nonce is the IV with the packet number XORed into
// its low-order bytes (right-aligned), and the AAD is every header byte up
// to and including the now-unprotected packet number.
func DecryptPayload(secrets *initialSecrets, buf []byte, h *LongHeader, pn uint64, pnLen int) ([]byte, error) {
	aead, err := aeadFor(secrets.key)
	if err != nil {
		return nil, err
	}

	nonce := secrets.iv
	pnValue := pn
	for i := len(nonce) - 1; i >= 0 && pnValue > 0; i-- {
		nonce[i] ^= byte(pnValue)
		pnValue >>= 8
	}

	aad := buf[:h.headerLen+pnLen]
	ciphertext := buf[h.headerLen+pnLen:]
	if len(ciphertext) < aead.Overhead() {
		return nil, fmt.Errorf("quic: ciphertext shorter than AEAD tag")
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("quic: AEAD open failed: %w", err)
	}
	return plaintext, nil
}
