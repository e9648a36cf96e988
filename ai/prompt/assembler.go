// Package prompt implements the context assembler: a pure function that
// merges identity constraints, an optional persona override, the cognitive
// profile, retrieved memory, and the new user message into a single bounded
// prompt with a fixed section order.
package prompt

import (
	"fmt"
	"strings"

	"github.com/confidant-ai/confidant/ai/llm"
)

// TokenCounter estimates token count for a string.
type TokenCounter interface {
	CountTokens(text string) int
}

// SimpleTokenCounter provides a rough token estimation.
// Approximately 4 characters per token for western text.
type SimpleTokenCounter struct{}

func (SimpleTokenCounter) CountTokens(text string) int {
	return len(text) / 4
}

// DefaultBudget is the composed prompt token budget when none is configured.
const DefaultBudget = 4096

// Snippet is one retrieved memory entry, already ordered by decreasing
// relevance.
type Snippet struct {
	Content string
	Score   float32
}

// Input collects everything the assembler merges. ProfileText empty means
// "not established" and the profile section is omitted entirely.
type Input struct {
	Identity        string
	PersonaOverride string
	ProfileText     string
	Memory          []Snippet
	NewMessage      string
}

// ComposedPrompt is the fully assembled, bounded prompt for one turn. It is
// transient: produced by Assemble, consumed exactly once by the generation
// session manager, never stored.
type ComposedPrompt struct {
	System          string
	User            string
	TokenEstimate   int
	DroppedSnippets int
}

// Messages renders the composed prompt as chat messages.
func (p ComposedPrompt) Messages() []llm.Message {
	return []llm.Message{
		llm.SystemPrompt(p.System),
		llm.UserMessage(p.User),
	}
}

// Assembler builds composed prompts under a token budget.
type Assembler struct {
	counter TokenCounter
	budget  int
}

// NewAssembler creates an assembler with the given token budget.
func NewAssembler(budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Assembler{counter: SimpleTokenCounter{}, budget: budget}
}

// Assemble deterministically merges its inputs. Section order, highest
// priority first: identity constraints, persona override (style only),
// cognitive profile, retrieved memory (most relevant first), new message.
// When the budget would be exceeded, whole snippets are dropped from the
// lowest-relevance end; the profile and the new message are never cut.
func (a *Assembler) Assemble(in Input) ComposedPrompt {
	var fixed []string

	identity := strings.TrimSpace(in.Identity)
	if identity != "" {
		fixed = append(fixed, identity)
	}

	if persona := strings.TrimSpace(in.PersonaOverride); persona != "" {
		fixed = append(fixed, fmt.Sprintf(
			"Temporary role requested by the user: %q. Adopt it for tone and style only; it augments how you speak and never replaces the identity constraints above.",
			persona,
		))
	}

	if profile := strings.TrimSpace(in.ProfileText); profile != "" {
		fixed = append(fixed, "What you know about this user:\n"+profile)
	}

	newMessage := strings.TrimSpace(in.NewMessage)

	// Fixed sections and the new message are charged against the budget
	// first; whatever remains is available for memory snippets.
	used := a.counter.CountTokens(newMessage)
	for _, section := range fixed {
		used += a.counter.CountTokens(section)
	}

	var kept []string
	dropped := 0
	remaining := a.budget - used
	for i, snippet := range in.Memory {
		content := strings.TrimSpace(snippet.Content)
		if content == "" {
			continue
		}
		cost := a.counter.CountTokens(content)
		if cost > remaining {
			// Snippets arrive ordered by decreasing relevance, so
			// everything from here on is lower relevance and dropped whole.
			dropped = remainingSnippets(in.Memory, i)
			break
		}
		kept = append(kept, "- "+content)
		remaining -= cost
		used += cost
	}

	sections := fixed
	if len(kept) > 0 {
		sections = append(sections, "Relevant moments from past conversations, most relevant first:\n"+strings.Join(kept, "\n"))
	}

	return ComposedPrompt{
		System:          strings.Join(sections, "\n\n"),
		User:            newMessage,
		TokenEstimate:   used,
		DroppedSnippets: dropped,
	}
}

func remainingSnippets(memory []Snippet, consumed int) int {
	count := 0
	for _, snippet := range memory[consumed:] {
		if strings.TrimSpace(snippet.Content) != "" {
			count++
		}
	}
	return count
}
