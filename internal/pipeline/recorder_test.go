package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/storage"
)

type mockAnswerer struct {
	res AnswerResult
}

func (m *mockAnswerer) Answer(context.Context, string) AnswerResult { return m.res }

type mockSaver struct {
	saved []storage.Interaction
	err   error
}

func (m *mockSaver) SaveInteraction(i storage.Interaction) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, i)
	return nil
}

func TestRecorder_SavesInteraction(t *testing.T) {
	next := &mockAnswerer{res: AnswerResult{
		Text:      "Motor pricing.",
		Strategy:  intent.BusinessInsights,
		Citations: []Citation{{SourceID: "call.pdf", Content: "TP rates"}},
	}}
	saver := &mockSaver{}
	r := NewRecorder(next, saver)

	tick := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(1500 * time.Millisecond)
		return tick
	}

	res := r.Answer(context.Background(), "Why headwinds?")
	if res.Text != "Motor pricing." {
		t.Errorf("answer changed: %q", res.Text)
	}
	if len(saver.saved) != 1 {
		t.Fatalf("saved %d interactions, want 1", len(saver.saved))
	}
	got := saver.saved[0]
	if got.Question != "Why headwinds?" || got.Strategy != "business_insights" || got.Status != "completed" {
		t.Errorf("interaction = %+v", got)
	}
	if got.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", got.DurationMS)
	}
	var cites []Citation
	if err := json.Unmarshal([]byte(got.CitationsJSON), &cites); err != nil {
		t.Fatalf("citations json: %v", err)
	}
	if len(cites) != 1 || cites[0].SourceID != "call.pdf" {
		t.Errorf("citations = %+v", cites)
	}
}

func TestRecorder_MarksApologyAsError(t *testing.T) {
	saver := &mockSaver{}
	r := NewRecorder(&mockAnswerer{res: apology(intent.General)}, saver)
	r.Answer(context.Background(), "q")
	if saver.saved[0].Status != "error" {
		t.Errorf("Status = %q, want error", saver.saved[0].Status)
	}
	if saver.saved[0].CitationsJSON != "[]" {
		t.Errorf("CitationsJSON = %q, want []", saver.saved[0].CitationsJSON)
	}
}

func TestRecorder_SaveFailureKeepsAnswer(t *testing.T) {
	r := NewRecorder(&mockAnswerer{res: AnswerResult{Text: "ok", Citations: []Citation{}}}, &mockSaver{err: errors.New("disk full")})
	if res := r.Answer(context.Background(), "q"); res.Text != "ok" {
		t.Errorf("Text = %q, want ok", res.Text)
	}
}
