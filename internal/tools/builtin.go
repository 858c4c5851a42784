package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/antoniostano/melissa/internal/books"
	"github.com/antoniostano/melissa/internal/memory"
	"github.com/antoniostano/melissa/internal/search"
)

// EndConversationTool is the tool name whose invocation signals closing
// intent; the session controller watches for it by name.
const EndConversationTool = "end_conversation"

// Searcher is the web search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Deps carries the collaborators the builtin tool set is bound to. Tools are
// built once per session with the user identity already resolved.
type Deps struct {
	UserID string
	Memory memory.Store
	Books  *books.Catalog
	Search Searcher
	TopK   int
}

// Builtin assembles the fixed tool set for one session.
func Builtin(deps Deps) *Registry {
	if deps.TopK <= 0 {
		deps.TopK = 3
	}

	return NewRegistry(
		Tool{
			Name:        "recall_memory",
			Description: "Search your long-term memory about the user. Use when the user asks about something you might already know about them.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "What to look for in memory"},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				query := stringArg(args, "query")
				if query == "" {
					return "I need to know what to look for in my memory."
				}
				if deps.Memory == nil {
					return memoryUnavailableReply
				}
				matches, err := deps.Memory.Recall(ctx, deps.UserID, query, deps.TopK)
				if err != nil {
					log.Printf("recall_memory failed: %v", err)
					return memoryUnavailableReply
				}
				return FormatMatches(matches)
			},
		},
		Tool{
			Name:        "save_memory",
			Description: "Store a fact about the user in long-term memory, e.g. their name, preferences or plans.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{"type": "string", "description": "The fact to remember, phrased about the user"},
				},
				"required": []string{"fact"},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				fact := stringArg(args, "fact")
				if fact == "" {
					return "I need the fact you want me to remember."
				}
				if deps.Memory == nil {
					return memoryWriteApology
				}
				if _, err := deps.Memory.Remember(ctx, deps.UserID, fact, "tool_call"); err != nil {
					// Memory-write failures are never fatal to the conversation.
					log.Printf("save_memory failed: %v", err)
					return memoryWriteApology
				}
				return fmt.Sprintf("Got it, I'll remember that %s.", fact)
			},
		},
		Tool{
			Name:        "show_memories",
			Description: "List everything stored in memory about the user. Use when the user asks what you know or remember about them.",
			Handler: func(ctx context.Context, _ map[string]any) string {
				if deps.Memory == nil {
					return memoryUnavailableReply
				}
				records, err := deps.Memory.All(ctx, deps.UserID)
				if err != nil {
					log.Printf("show_memories failed: %v", err)
					return memoryUnavailableReply
				}
				if len(records) == 0 {
					return "I don't have any memories stored yet. Tell me things about yourself!"
				}
				lines := make([]string, 0, len(records))
				for _, r := range records {
					lines = append(lines, "- "+r.Fact)
				}
				return fmt.Sprintf("Everything I know about you (%d memories):\n%s", len(records), strings.Join(lines, "\n"))
			},
		},
		Tool{
			Name:        "forget_memories",
			Description: "Delete all stored memories and start fresh. Only use when the user explicitly asks to be forgotten.",
			Handler: func(ctx context.Context, _ map[string]any) string {
				if deps.Memory == nil {
					return memoryUnavailableReply
				}
				if err := deps.Memory.Forget(ctx, deps.UserID); err != nil {
					log.Printf("forget_memories failed: %v", err)
					return "I couldn't clear my memory right now, sorry."
				}
				return "All memories have been deleted. Starting fresh!"
			},
		},
		Tool{
			Name:        "list_books",
			Description: "List all books the user has read.",
			Handler: func(_ context.Context, _ map[string]any) string {
				if deps.Books == nil {
					return "The reading list isn't available right now."
				}
				return deps.Books.List()
			},
		},
		Tool{
			Name:        "lookup_book",
			Description: "Get details about a specific book from the user's reading list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string", "description": "Book title or id"},
				},
				"required": []string{"title"},
			},
			Handler: func(_ context.Context, args map[string]any) string {
				title := stringArg(args, "title")
				if title == "" {
					return "Which book would you like to know about?"
				}
				if deps.Books == nil {
					return "The reading list isn't available right now."
				}
				return deps.Books.Describe(title)
			},
		},
		Tool{
			Name:        "web_search",
			Description: "Search the web for current events, facts, weather or anything you don't know.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "The search query"},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				query := stringArg(args, "query")
				if query == "" {
					return "What would you like me to search for?"
				}
				if deps.Search == nil {
					return searchUnavailableReply
				}
				results, err := deps.Search.Search(ctx, query)
				if err != nil {
					log.Printf("web_search failed: %v", err)
					return searchUnavailableReply
				}
				return search.Format(query, results)
			},
		},
		Tool{
			Name:        EndConversationTool,
			Description: "End the conversation. Use when the user says goodbye, bye, or asks to stop.",
			Handler: func(_ context.Context, _ map[string]any) string {
				return "Conversation ended."
			},
		},
	)
}

const (
	memoryUnavailableReply = "My memory isn't reachable right now, so I can't check what I know."
	memoryWriteApology     = "Sorry, I couldn't save that to my memory right now, but let's keep talking."
	searchUnavailableReply = "Web search is unavailable right now, sorry."
)

// FormatMatches renders recall results as a compact block. The empty case is
// an explicit sentence so the model can narrate it to the user.
func FormatMatches(matches []memory.Match) string {
	if len(matches) == 0 {
		return "I don't have any memories about that yet."
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, "- "+m.Fact)
	}
	return "Here's what I remember:\n" + strings.Join(lines, "\n")
}
