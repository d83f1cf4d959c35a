package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/pipeline"
)

type scriptedPrompter struct {
	lines []string
	err   error
}

func (p *scriptedPrompter) Ask() (string, error) {
	if len(p.lines) == 0 {
		if p.err != nil {
			return "", p.err
		}
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

type mockAnswerer struct {
	questions []string
	res       pipeline.AnswerResult
	onAnswer  func()
}

func (m *mockAnswerer) Answer(_ context.Context, q string) pipeline.AnswerResult {
	m.questions = append(m.questions, q)
	if m.onAnswer != nil {
		m.onAnswer()
	}
	return m.res
}

func runShell(t *testing.T, a pipeline.Answerer, lines ...string) (string, *Session) {
	t.Helper()
	var out bytes.Buffer
	session := &Session{}
	sh := NewShell(a, &scriptedPrompter{lines: lines}, &out, 0, session)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String(), session
}

func TestShell_ExitStopsLoop(t *testing.T) {
	a := &mockAnswerer{}
	out, _ := runShell(t, a, "EXIT", "never asked")
	if len(a.questions) != 0 {
		t.Errorf("answerer called with %v after exit", a.questions)
	}
	if !strings.Contains(out, "Goodbye") {
		t.Errorf("missing goodbye in %q", out)
	}
}

func TestShell_EOFIsCleanExit(t *testing.T) {
	out, _ := runShell(t, &mockAnswerer{})
	if !strings.Contains(out, "Goodbye") {
		t.Errorf("missing goodbye in %q", out)
	}
}

func TestShell_PromptErrorIsReturned(t *testing.T) {
	var out bytes.Buffer
	sh := NewShell(&mockAnswerer{}, &scriptedPrompter{err: errors.New("tty gone")}, &out, 0, nil)
	if err := sh.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Errorf("err = %v", err)
	}
}

func TestShell_HelpAndEmptyInput(t *testing.T) {
	a := &mockAnswerer{}
	out, _ := runShell(t, a, "help", "   ", "exit")
	if len(a.questions) != 0 {
		t.Errorf("answerer called with %v", a.questions)
	}
	for _, want := range []string{"EXAMPLE QUESTIONS BY CATEGORY", "Business Insights", "Please enter a question."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestShell_PrintsTopThreeCitations(t *testing.T) {
	long := strings.Repeat("x", 200)
	a := &mockAnswerer{res: pipeline.AnswerResult{
		Text:     "💼 **Business Insights**\n\nMotor TP pricing.",
		Strategy: intent.BusinessInsights,
		Citations: []pipeline.Citation{
			{SourceID: "a.pdf", Content: long},
			{SourceID: "b.pdf", Content: "short"},
			{SourceID: "c.pdf", Content: "third"},
			{SourceID: "d.pdf", Content: "fourth"},
		},
	}}
	out, session := runShell(t, a, "  Why is BAGIC facing headwinds?  ", "exit")

	if len(a.questions) != 1 || a.questions[0] != "Why is BAGIC facing headwinds?" {
		t.Fatalf("questions = %v", a.questions)
	}
	if !strings.Contains(out, "Motor TP pricing.") {
		t.Error("answer text not printed")
	}
	if !strings.Contains(out, "Sources (4 documents)") {
		t.Error("source count not printed")
	}
	if strings.Contains(out, "d.pdf") {
		t.Error("fourth citation should not be shown")
	}
	if !strings.Contains(out, strings.Repeat("x", 150)+"...") || strings.Contains(out, strings.Repeat("x", 151)) {
		t.Error("long preview not truncated to 150 characters")
	}

	if len(session.History) != 1 || session.Busy() {
		t.Errorf("session = %+v", session)
	}
}

func TestShell_NoCitations(t *testing.T) {
	a := &mockAnswerer{res: pipeline.AnswerResult{Text: "📈 Highest stock price: ₹1,700.50", Strategy: intent.StockPrice}}
	out, _ := runShell(t, a, "highest price in 2022", "exit")
	if !strings.Contains(out, "No specific sources found") {
		t.Errorf("output = %q", out)
	}
}

func TestShell_BusyWhileAnswering(t *testing.T) {
	session := &Session{}
	a := &mockAnswerer{}
	a.onAnswer = func() {
		if !session.Busy() {
			t.Error("session not busy during answer")
		}
	}
	var out bytes.Buffer
	sh := NewShell(a, &scriptedPrompter{lines: []string{"q"}}, &out, 0, session)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if session.Busy() {
		t.Error("session still busy after answer")
	}
}

func TestShell_RefusesWhileBusy(t *testing.T) {
	session := &Session{}
	if !session.begin() {
		t.Fatal("fresh session refused")
	}
	a := &mockAnswerer{}
	var out bytes.Buffer
	sh := NewShell(a, &scriptedPrompter{lines: []string{"highest price in 2023"}}, &out, 0, session)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(a.questions) != 0 {
		t.Errorf("answerer called with %q while busy", a.questions)
	}
	if !strings.Contains(out.String(), "Still answering the previous question") {
		t.Errorf("output = %q", out.String())
	}
	if len(session.History) != 0 {
		t.Errorf("History = %+v, want empty", session.History)
	}
}

func TestShell_SlowWarning(t *testing.T) {
	var out bytes.Buffer
	sh := NewShell(&mockAnswerer{}, &scriptedPrompter{lines: []string{"q"}}, &out, time.Second, nil)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sh.now = func() time.Time {
		tick = tick.Add(3 * time.Second)
		return tick
	}
	if err := sh.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "That answer took 3s") {
		t.Errorf("missing slow warning in %q", out.String())
	}
}

func TestShell_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &mockAnswerer{}
	var out bytes.Buffer
	sh := NewShell(a, &scriptedPrompter{lines: []string{"q"}}, &out, 0, nil)
	if err := sh.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(a.questions) != 0 {
		t.Error("answered after cancellation")
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "short"},
		{strings.Repeat("a", 150), strings.Repeat("a", 150)},
		{strings.Repeat("₹", 151), strings.Repeat("₹", 150) + "..."},
	}
	for _, tt := range tests {
		if got := Preview(tt.in); got != tt.want {
			t.Errorf("Preview(%d runes) = %d runes", len([]rune(tt.in)), len([]rune(got)))
		}
	}
}
