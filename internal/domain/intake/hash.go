package intake

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog"
)

// BenchmarkMarker is the sentinel prefix carried by synthetic load-test
// documents. It is only honored when the hasher was built with benchmark
// mode enabled.
const BenchmarkMarker = "<!--CDA_BENCHMARK_TEST-->"

// Hash returns the base64-encoded SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HexHash returns the hex-encoded SHA-256 of b, the form used for the
// attachment hash carried in token claims.
func HexHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Hasher computes the dedup key for a document. Benchmark traffic hashes the
// workflow id instead of the content so load tests never collide with real
// records.
type Hasher struct {
	benchmark bool
	logger    zerolog.Logger
}

// NewHasher builds a Hasher. benchmark must only be enabled on load-test
// deployments.
func NewHasher(benchmark bool, logger zerolog.Logger) *Hasher {
	return &Hasher{benchmark: benchmark, logger: logger}
}

// IsBenchmarkDocument reports whether cda is synthetic benchmark input that
// this hasher is configured to honor.
func (h *Hasher) IsBenchmarkDocument(cda string) bool {
	return h.benchmark && strings.HasPrefix(cda, BenchmarkMarker)
}

// DocumentHash returns the content hash for cda: SHA-256/base64 over the
// canonical form, or over workflowInstanceID for benchmark documents.
func (h *Hasher) DocumentHash(cda, workflowInstanceID string) string {
	if h.IsBenchmarkDocument(cda) {
		return Hash(workflowInstanceID)
	}
	return Hash(Canonicalize(cda, h.logger))
}
