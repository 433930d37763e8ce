package claims

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestAttachmentHashMatches(t *testing.T) {
	file := []byte("%PDF-1.4 content")
	sum := sha256.Sum256(file)
	hash := hex.EncodeToString(sum[:])

	p := &Payload{AttachmentHash: hash}
	if !AttachmentHashMatches(p, file) {
		t.Error("expected matching hash to be accepted")
	}

	p.AttachmentHash = strings.ToUpper(hash)
	if !AttachmentHashMatches(p, file) {
		t.Error("expected hash comparison to be case-insensitive")
	}

	p.AttachmentHash = hash
	if AttachmentHashMatches(p, []byte("different content")) {
		t.Error("expected mismatching content to be rejected")
	}

	p.AttachmentHash = ""
	if AttachmentHashMatches(p, file) {
		t.Error("expected empty claim hash to be rejected")
	}
}
