package llm

import (
	"fmt"
	"strings"

	"github.com/avelkov/chatdesk/internal/domain"
)

// BuildSystemPrompt assembles the system instruction for a chatbot from its
// identity and the retrieved document snippets.
func BuildSystemPrompt(chatbotName string, snippets []domain.KnowledgeSnippet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a project assistant for a team workspace.\n", chatbotName)
	b.WriteString("Answer questions using the project documents below. ")
	b.WriteString("If the documents do not cover the question, say so instead of guessing.\n")

	if len(snippets) > 0 {
		b.WriteString("\nProject documents:\n")
		for i, s := range snippets {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, s.Source, s.Text)
		}
	}

	return b.String()
}

// BuildPrompt flattens the request into a single prompt for providers without
// a native multi-turn API.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString(req.System)
	b.WriteString("\n\nConversation so far:\n")
	for _, t := range req.History {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	fmt.Fprintf(&b, "user: %s\nassistant:", req.Message)

	return b.String()
}
