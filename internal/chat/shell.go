package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/finrag/internal/pipeline"
)

const (
	maxShownCitations = 3
	previewRunes      = 150
	ruleWidth         = 50
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	sourceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// exampleCategory groups sample questions shown by the help command.
type exampleCategory struct {
	title     string
	questions []string
}

var examples = []exampleCategory{
	{"📈 Stock Price Queries", []string{
		"What was the highest stock price of Bajaj Finserv in 2022?",
		"What was the average stock price in 2023?",
		"What was the lowest stock price in Jan-22?",
		"Compare stock prices from 2022 to 2023",
	}},
	{"💼 Business Insights", []string{
		"Why is BAGIC facing headwinds in motor insurance business?",
		"What's the rationale of Hero partnership?",
		"Tell me about organic traffic of Bajaj Markets",
		"What are the discussions regarding Allianz stake sale?",
	}},
	{"📊 Financial Analysis", []string{
		"Act as a CFO of BAGIC and help me draft commentary for upcoming investor call",
		"What are the key financial highlights from Q4 FY25?",
		"Compare Bajaj Finserv performance from Q1 to Q4 FY25",
	}},
	{"🔍 General Queries", []string{
		"What products does Bajaj Finserv offer?",
		"What are the key strategic initiatives?",
		"How is the company performing in different business segments?",
	}},
}

// Shell is the interactive question loop. It only presents answers; every
// decision is made by the Answerer.
type Shell struct {
	answerer pipeline.Answerer
	prompter Prompter
	out      io.Writer
	slow     time.Duration
	session  *Session
	now      func() time.Time
}

// NewShell creates a Shell writing to out. A positive slow duration prints
// a warning after answers that took longer; the call is never cancelled.
func NewShell(a pipeline.Answerer, p Prompter, out io.Writer, slow time.Duration, session *Session) *Shell {
	if session == nil {
		session = &Session{}
	}
	return &Shell{answerer: a, prompter: p, out: out, slow: slow, session: session, now: time.Now}
}

// Run prompts until the user types exit, interrupts, or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	s.printBanner()
	for ctx.Err() == nil {
		line, err := s.prompter.Ask()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out, "\n👋 Exiting chatbot. Goodbye!")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading question: %w", err)
		}

		question := strings.TrimSpace(line)
		switch strings.ToLower(question) {
		case "exit":
			fmt.Fprintln(s.out, "👋 Exiting chatbot. Goodbye!")
			return nil
		case "help":
			s.printHelp()
			continue
		case "":
			fmt.Fprintln(s.out, warnStyle.Render("⚠️  Please enter a question."))
			continue
		}

		s.ask(ctx, question)
	}
	return nil
}

func (s *Shell) ask(ctx context.Context, question string) {
	if !s.session.begin() {
		fmt.Fprintln(s.out, warnStyle.Render("⏳ Still answering the previous question. Please wait."))
		return
	}
	fmt.Fprintln(s.out, "🔄 Processing your question...")
	start := s.now()
	res := s.answerer.Answer(ctx, question)
	elapsed := s.now().Sub(start)
	s.session.end(Turn{Question: question, Result: res, Elapsed: elapsed})

	s.printAnswer(res)
	if s.slow > 0 && elapsed > s.slow {
		fmt.Fprintln(s.out, warnStyle.Render(fmt.Sprintf("⚠️  That answer took %s.", elapsed.Round(time.Second))))
	}
}

func (s *Shell) printBanner() {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out, titleStyle.Render("🎯 Bajaj Finserv assistant is ready!"))
	fmt.Fprintln(s.out, "💡 Example questions you can ask:")
	for _, c := range examples {
		fmt.Fprintf(s.out, "   • %s\n", c.questions[0])
	}
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out, "Type 'exit' to quit or 'help' for more examples.")
}

func (s *Shell) printHelp() {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(s.out, "\n"+rule)
	fmt.Fprintln(s.out, titleStyle.Render("💡 EXAMPLE QUESTIONS BY CATEGORY:"))
	fmt.Fprintln(s.out, rule)
	for _, c := range examples {
		fmt.Fprintf(s.out, "\n%s:\n", headerStyle.Render(c.title))
		for i, q := range c.questions {
			fmt.Fprintf(s.out, "  %d. %s\n", i+1, q)
		}
	}
	fmt.Fprintln(s.out, "\n"+rule)
}

func (s *Shell) printAnswer(res pipeline.AnswerResult) {
	rule := strings.Repeat("=", ruleWidth)
	fmt.Fprintln(s.out, "\n📝"+rule)
	fmt.Fprintln(s.out, headerStyle.Render("💬 ANSWER:"))
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out, res.Text)
	fmt.Fprintln(s.out, rule)

	if len(res.Citations) == 0 {
		fmt.Fprintln(s.out, "\n📚 No specific sources found for this answer.")
		return
	}
	fmt.Fprintf(s.out, "\n📚 Sources (%d documents):\n", len(res.Citations))
	for i, c := range res.Citations {
		if i == maxShownCitations {
			break
		}
		fmt.Fprintf(s.out, "  %d. %s\n", i+1, sourceStyle.Render(c.SourceID))
		fmt.Fprintf(s.out, "     Preview: %s\n", previewStyle.Render(Preview(c.Content)))
	}
}

// Preview shortens content to its first 150 characters, marking a cut with
// an ellipsis.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes]) + "..."
}
