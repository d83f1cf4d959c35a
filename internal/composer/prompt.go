package composer

import (
	"strings"

	"github.com/kalambet/finrag/internal/intent"
)

// Placeholders a Template carries until Render fills them.
const (
	ContextPlaceholder  = "{context}"
	QuestionPlaceholder = "{question}"
)

const basePrompt = `You are an expert financial analyst and chatbot for Bajaj Finserv.
Your role is to provide accurate, detailed, and professional responses based on the provided context.

IMPORTANT GUIDELINES:
1. Always base your answers on the provided context
2. Be specific and quantitative when possible
3. Use professional financial terminology
4. Structure your responses clearly with bullet points or sections
5. If information is not available in the context, clearly state this`

// guidance holds the strategy-specific block appended to basePrompt.
// Strategies without an entry use the General block.
var guidance = map[intent.Strategy]string{
	intent.StockPrice: `For stock price queries:
- Provide specific numerical values with proper formatting (₹ symbol)
- Include date ranges when relevant
- If calculating averages, explain the methodology
- Present data in a structured format`,

	intent.FinancialAnalysis: `For financial analysis and CFO commentary:
- Focus on key financial metrics (revenue, profit, growth rates)
- Highlight strategic initiatives and their impact
- Discuss market position and competitive advantages
- Address risks and opportunities
- Use professional financial language
- Structure as a formal investor communication`,

	intent.BusinessInsights: `For business insights and strategic questions:
- Provide detailed analysis of business drivers
- Explain strategic rationale behind decisions
- Discuss market conditions and their impact
- Address challenges and mitigation strategies
- Include relevant financial implications`,

	intent.Comparison: `For comparison queries:
- Present data in a side-by-side format
- Highlight key differences and similarities
- Provide percentage changes where relevant
- Explain the significance of the comparison
- Use tables or structured format for clarity`,

	intent.General: `For general queries:
- Provide comprehensive but concise answers
- Include relevant context and background
- Structure information logically
- Highlight key takeaways`,
}

const trailer = "Context: " + ContextPlaceholder + "\nQuestion: " + QuestionPlaceholder + "\n\nAnswer:"

// Template is a prompt with context and question placeholders.
type Template struct {
	Strategy intent.Strategy
	text     string
}

// Build returns the prompt template for a strategy. The same strategy always
// yields the same text.
func Build(s intent.Strategy) Template {
	g, ok := guidance[s]
	if !ok {
		g = guidance[intent.General]
	}
	return Template{
		Strategy: s,
		text:     basePrompt + "\n\n" + g + "\n\n" + trailer,
	}
}

// Text returns the template with its placeholders intact.
func (t Template) Text() string {
	return t.text
}

// Render fills both placeholders in a single pass, so placeholder-like text
// inside context or question is left alone.
func (t Template) Render(context, question string) string {
	return strings.NewReplacer(ContextPlaceholder, context, QuestionPlaceholder, question).Replace(t.text)
}
