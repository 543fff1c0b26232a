package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/hkdf"
)

// initialSecrets holds the AES-128-GCM key, IV and header-protection key
// derived for one direction (client or server) of the Initial encryption
// level, matching Initial_Secrets in the original's quic_parser.hpp.
type initialSecrets struct {
	key [aes128KeyLength]byte
	iv  [aeadNonceLength]byte
	hp  [aes128KeyLength]byte
}

// deriveInitialSecrets runs the full RFC 9001 §5.2 key schedule for a
// destination connection ID and QUIC version: HKDF-Extract the initial
// secret with the version's salt, HKDF-Expand-Label into the
// client-in/server-in secret, then HKDF-Expand-Label again into key/iv/hp.
// Grounded on quic_create_initial_secrets + quic_derive_secrets.
func deriveInitialSecrets(dcid []byte, version uint32, isClient bool) (*initialSecrets, error) {
	s, isV2, ok := salt(version)
	if !ok {
		return nil, fmt.Errorf("quic: unsupported version 0x%08x", version)
	}

	initialSecret := hkdf.Extract(sha256.New, dcid, s)

	label := "server in"
	if isClient {
		label = "client in"
	}
	if isV2 {
		label = "v2 " + label
	}
	secret := hkdfExpandLabel(sha256.New, initialSecret, label, nil, hashSHA256Length)

	keyLabel, ivLabel, hpLabel := "quic key", "quic iv", "quic hp"
	if isV2 {
		keyLabel, ivLabel, hpLabel = "quicv2 key", "quicv2 iv", "quicv2 hp"
	}

	out := &initialSecrets{}
	copy(out.key[:], hkdfExpandLabel(sha256.New, secret, keyLabel, nil, aes128KeyLength))
	copy(out.iv[:], hkdfExpandLabel(sha256.New, secret, ivLabel, nil, aeadNonceLength))
	copy(out.hp[:], hkdfExpandLabel(sha256.New, secret, hpLabel, nil, aes128KeyLength))
	return out, nil
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1),
// ported from the shockwave QUIC crypto example: a length-prefixed
// "tls13 "+label wire structure fed to HKDF-Expand.
func hkdfExpandLabel(hashFunc func() hash.Hash, secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	hkdfLabel := make([]byte, 2+1+len(fullLabel)+1+len(context))

	hkdfLabel[0] = byte(length >> 8)
	hkdfLabel[1] = byte(length)
	hkdfLabel[2] = byte(len(fullLabel))
	copy(hkdfLabel[3:], fullLabel)

	offset := 3 + len(fullLabel)
	hkdfLabel[offset] = byte(len(context))
	copy(hkdfLabel[offset+1:], context)

	out := make([]byte, length)
	r := hkdf.Expand(hashFunc, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		panic("quic: hkdf expand failed: " + err.Error())
	}
	return out
}

// aeadFor builds the AES-128-GCM AEAD for a derived key.
func aeadFor(key [aes128KeyLength]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// headerProtectionMask computes the 5-byte header protection mask from the
// sample per RFC 9001 §5.4.3: AES-ECB-encrypt the 16-byte sample with the
// hp key and take the first 5 bytes of ciphertext as the mask. There is no
// cipher.BlockMode for raw ECB in the standard library or the example
// corpus (ECB is intentionally awkward to use safely); ipfixprobe and the
// shockwave example both call the raw block cipher once over exactly one
// block, which is what this does too.
func headerProtectionMask(hp [aes128KeyLength]byte, sample [sampleLength]byte) ([5]byte, error) {
	block, err := aes.NewCipher(hp[:])
	if err != nil {
		return [5]byte{}, err
	}
	var out [sampleLength]byte
	block.Encrypt(out[:], sample[:])
	var mask [5]byte
	copy(mask[:], out[:5])
	return mask, nil
}
