package validation

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/intake"
)

// Store is the slice of the idempotency store the orchestrator writes to.
type Store interface {
	Put(ctx context.Context, hash, wii, transformID, engineID string) error
	PutBenchmark(ctx context.Context, hash, wii, transformID, engineID string) error
}

// Orchestrator drives a document through the validator and records the
// accepted hash so publication can later prove validation happened.
type Orchestrator struct {
	client   Client
	store    Store
	hasher   *intake.Hasher
	tsIssuer string
	logger   zerolog.Logger
}

func NewOrchestrator(client Client, store Store, hasher *intake.Hasher, tsIssuer string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		store:    store,
		hasher:   hasher,
		tsIssuer: tsIssuer,
		logger:   logger.With().Str("component", "validation").Logger(),
	}
}

// SystemFor resolves the issuing system from the token issuer.
func (o *Orchestrator) SystemFor(issuer string) System {
	if o.tsIssuer != "" && issuer == o.tsIssuer {
		return SystemTS
	}
	return SystemNone
}

// Run validates cda under wii. On acceptance the canonical hash is stored
// and any validator advisory is carried back joined into a single warning.
// Rejections come back as validation problems; transport failures as
// unreachable problems.
func (o *Orchestrator) Run(ctx context.Context, cda, wii, issuer string) (*Result, error) {
	raw, err := o.client.Validate(ctx, []byte(cda), wii, o.SystemFor(issuer))
	if err != nil {
		return nil, err
	}

	detail := strings.Join(raw.Messages, ",")
	if !raw.Outcome.Accepted() {
		o.logger.Info().Str("workflow_instance_id", wii).
			Str("outcome", string(raw.Outcome)).Msg("document rejected")
		return nil, problemFor(raw.Outcome, detail)
	}

	hash := o.hasher.DocumentHash(cda, wii)
	if o.hasher.IsBenchmarkDocument(cda) {
		err = o.store.PutBenchmark(ctx, hash, wii, raw.TransformID, raw.EngineID)
	} else {
		err = o.store.Put(ctx, hash, wii, raw.TransformID, raw.EngineID)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{WorkflowInstanceID: wii}
	if raw.Outcome == RawSemanticWarning {
		res.Warning = detail
	}
	return res, nil
}
