package content

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"

	"fraudwatch/internal/constants"
)

// Hasher computes content fingerprints. With chat scope the chat id is part
// of the hashed bytes, so identical content in two chats yields two keys.
type Hasher struct {
	algorithm string
	scope     string
}

func NewHasher(algorithm, scope string) *Hasher {
	return &Hasher{
		algorithm: strings.ToLower(algorithm),
		scope:     scope,
	}
}

func (h *Hasher) Text(chatID, canonical string) string {
	return h.sum(chatID, nil, []byte(canonical))
}

// Image fingerprints raw image bytes under a separate domain prefix so that
// identical images dedup before OCR runs.
func (h *Hasher) Image(chatID string, data []byte) string {
	return h.sum(chatID, []byte(constants.ImageFingerprintTag), data)
}

func (h *Hasher) sum(chatID string, prefix, payload []byte) string {
	d := h.newDigest()
	if h.scope == constants.DedupScopeChat {
		d.Write([]byte(chatID))
		d.Write([]byte{0})
	}
	d.Write(prefix)
	d.Write(payload)
	return hex.EncodeToString(d.Sum(nil))
}

func (h *Hasher) newDigest() hash.Hash {
	switch h.algorithm {
	case "sha512":
		return sha512.New()
	default:
		return sha256.New()
	}
}
