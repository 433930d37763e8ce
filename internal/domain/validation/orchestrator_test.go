package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/intake"
	"github.com/medgate/dispatcher/internal/domain/outcome"
)

type mockClient struct {
	result *RawResult
	err    error
	gotSys System
}

func (m *mockClient) Validate(_ context.Context, _ []byte, _ string, system System) (*RawResult, error) {
	m.gotSys = system
	return m.result, m.err
}

type mockStore struct {
	puts          map[string]string
	benchmarkPuts map[string]string
	err           error
}

func newMockStore() *mockStore {
	return &mockStore{puts: map[string]string{}, benchmarkPuts: map[string]string{}}
}

func (m *mockStore) Put(_ context.Context, hash, wii, _, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.puts[hash] = wii
	return nil
}

func (m *mockStore) PutBenchmark(_ context.Context, hash, wii, _, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.benchmarkPuts[hash] = wii
	return nil
}

const testDoc = `<ClinicalDocument><id root="1.2.3"/></ClinicalDocument>`

func newOrchestrator(c Client, s Store, benchmark bool) *Orchestrator {
	return NewOrchestrator(c, s, intake.NewHasher(benchmark, zerolog.Nop()), "TS_ISSUER", zerolog.Nop())
}

func TestRunStoresHashOnAcceptance(t *testing.T) {
	client := &mockClient{result: &RawResult{Outcome: RawOK, TransformID: "t1", EngineID: "e1"}}
	store := newMockStore()
	o := newOrchestrator(client, store, false)

	res, err := o.Run(context.Background(), testDoc, "wii-1", "anyone")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning %q", res.Warning)
	}
	if len(store.puts) != 1 {
		t.Fatalf("stored %d hashes, want 1", len(store.puts))
	}
	for _, wii := range store.puts {
		if wii != "wii-1" {
			t.Errorf("stored wii = %q, want wii-1", wii)
		}
	}
}

func TestRunJoinsSemanticWarningMessages(t *testing.T) {
	client := &mockClient{result: &RawResult{
		Outcome:  RawSemanticWarning,
		Messages: []string{"M1", "M2"},
	}}
	store := newMockStore()
	o := newOrchestrator(client, store, false)

	res, err := o.Run(context.Background(), testDoc, "wii-1", "anyone")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Warning != "M1,M2" {
		t.Errorf("warning = %q, want M1,M2", res.Warning)
	}
	if len(store.puts) != 1 {
		t.Errorf("a semantic warning must still store the hash")
	}
}

func TestRunRejectionMapsTaxonomy(t *testing.T) {
	cases := []struct {
		raw      RawOutcome
		wantType string
	}{
		{RawSyntaxError, outcome.TypeSyntaxError},
		{RawSemanticError, outcome.TypeSemanticError},
		{RawVocabularyError, outcome.TypeVocabularyError},
		{RawOutcome("SOMETHING_NEW"), outcome.TypeGenericError},
	}
	for _, tc := range cases {
		t.Run(string(tc.raw), func(t *testing.T) {
			client := &mockClient{result: &RawResult{Outcome: tc.raw, Messages: []string{"bad"}}}
			store := newMockStore()
			o := newOrchestrator(client, store, false)

			_, err := o.Run(context.Background(), testDoc, "wii-1", "anyone")
			var problem *outcome.Problem
			if !errors.As(err, &problem) {
				t.Fatalf("expected a problem, got %v", err)
			}
			if problem.Type != tc.wantType {
				t.Errorf("type = %q, want %q", problem.Type, tc.wantType)
			}
			if len(store.puts) != 0 {
				t.Errorf("rejected document must not be stored")
			}
		})
	}
}

func TestRunPropagatesUnreachable(t *testing.T) {
	client := &mockClient{err: outcome.NewProblem(outcome.KindUnreachable,
		outcome.TypeServiceError, "Servizio non disponibile.", "", "down")}
	o := newOrchestrator(client, newMockStore(), false)

	_, err := o.Run(context.Background(), testDoc, "wii-1", "anyone")
	problem := outcome.AsProblem(err)
	if problem.Kind != outcome.KindUnreachable {
		t.Errorf("kind = %d, want unreachable", problem.Kind)
	}
}

func TestRunBenchmarkDocumentsUseBenchmarkPartition(t *testing.T) {
	client := &mockClient{result: &RawResult{Outcome: RawOK}}
	store := newMockStore()
	o := newOrchestrator(client, store, true)

	doc := intake.BenchmarkMarker + testDoc
	if _, err := o.Run(context.Background(), doc, "wii-bench", "anyone"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.benchmarkPuts) != 1 || len(store.puts) != 0 {
		t.Fatalf("benchmark document stored in wrong partition: real=%d bench=%d",
			len(store.puts), len(store.benchmarkPuts))
	}
	// the benchmark hash keys off the workflow id, not the content
	if _, ok := store.benchmarkPuts[intake.Hash("wii-bench")]; !ok {
		t.Error("benchmark hash is not the workflow id hash")
	}
}

func TestSystemForIssuer(t *testing.T) {
	o := newOrchestrator(&mockClient{result: &RawResult{Outcome: RawOK}}, newMockStore(), false)
	if got := o.SystemFor("TS_ISSUER"); got != SystemTS {
		t.Errorf("SystemFor(TS_ISSUER) = %q", got)
	}
	if got := o.SystemFor("UNKNOWN_ISSUER"); got != SystemNone {
		t.Errorf("SystemFor(UNKNOWN_ISSUER) = %q", got)
	}
}
