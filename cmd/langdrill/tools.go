package main

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "Langdrill MCP"
	serverVersion = "1.0.0"

	categoriesURI = "langdrill://categories"
)

const langdrillServerInfo = `
This is an English to Portuguese vocabulary drill. Each card has an English
front and a Portuguese back, optionally tagged with a category.

1. PRACTICE ROUND:
   - Call practice_status to see the current card. Only its front is shown.
   - Let the learner answer before calling reveal_card.
   - After revealing, call grade_card with correct=true or correct=false.
   - Grading is only possible once the back has been revealed.

2. END OF ROUND:
   - When the state is "complete", call round_summary.
   - retry_wrong drills only the cards answered incorrectly.
   - restart_round or reshuffle starts over.

3. DICTATION:
   - new_sentence fetches and speaks a short English sentence.
   - Ask the learner to type what they heard and call submit_dictation.
   - Each word is graded in position; the sentence is revealed after grading.

4. CARDS:
   - create_card, delete_card, list_cards, import_cards and export_cards manage
     the collection. Categories are listed by the langdrill://categories resource.
`

// newMCPServer builds the MCP server with every tool bound to svc
func newMCPServer(svc *DrillService) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithInstructions(langdrillServerInfo),
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	bind := func(tool mcp.Tool, h toolHandler) {
		handler := serve(h)
		s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler(withService(ctx, svc), request)
		})
	}

	// Cards
	bind(mcp.NewTool("create_card",
		mcp.WithDescription("Create a flashcard. It is added in front of the collection."),
		mcp.WithString("front", mcp.Required(), mcp.Description("English text")),
		mcp.WithString("back", mcp.Required(), mcp.Description("Portuguese text")),
		mcp.WithString("category", mcp.Description("Optional category, for example Frutas")),
	), handleCreateCard)
	bind(mcp.NewTool("delete_card",
		mcp.WithDescription("Delete a flashcard and its progress"),
		mcp.WithString("card_id", mcp.Required(), mcp.Description("The ID of the card to delete")),
	), handleDeleteCard)
	bind(mcp.NewTool("list_cards",
		mcp.WithDescription("List flashcards, optionally searching text and filtering by category"),
		mcp.WithString("query", mcp.Description("Case-insensitive text to look for in front, back or category")),
		mcp.WithString("category", mcp.Description("Category filter; empty or __all matches every card")),
	), handleListCards)
	bind(mcp.NewTool("import_cards",
		mcp.WithDescription(
			"Import cards from a JSON array of {front, back, category?} objects. "+
				"Entries without front or back are skipped; accepted cards are added in front of the collection.",
		),
		mcp.WithString("document", mcp.Required(), mcp.Description("The JSON document")),
	), handleImportCards)
	bind(mcp.NewTool("export_cards",
		mcp.WithDescription("Export the whole collection as JSON"),
	), handleExportCards)

	// Practice session
	bind(mcp.NewTool("set_category",
		mcp.WithDescription("Choose the category to practice and start a new round"),
		mcp.WithString("category", mcp.Description("Category name; empty or __all practices every card")),
	), handleSetCategory)
	bind(mcp.NewTool("practice_status",
		mcp.WithDescription("Show the current card (front only until revealed) and round progress"),
	), handlePracticeStatus)
	bind(mcp.NewTool("reveal_card",
		mcp.WithDescription("Show, hide or toggle the back of the current card"),
		mcp.WithString("mode", mcp.Enum("show", "hide", "toggle"), mcp.Description("Defaults to show")),
	), handleRevealCard)
	bind(mcp.NewTool("grade_card",
		mcp.WithDescription("Grade the revealed card and move to the next one"),
		mcp.WithBoolean("correct", mcp.Required(), mcp.Description("Whether the learner answered correctly")),
	), handleGradeCard)
	bind(mcp.NewTool("next_card", mcp.WithDescription("Move to the next card")), handleNextCard)
	bind(mcp.NewTool("previous_card", mcp.WithDescription("Move to the previous card")), handlePreviousCard)
	bind(mcp.NewTool("reshuffle",
		mcp.WithDescription("Shuffle the round again; grades given so far are kept"),
	), handleReshuffle)
	bind(mcp.NewTool("restart_round",
		mcp.WithDescription("Start a fresh round over every card of the category"),
	), handleRestartRound)
	bind(mcp.NewTool("round_summary",
		mcp.WithDescription("List the cards answered correctly and incorrectly in this round"),
	), handleRoundSummary)
	bind(mcp.NewTool("retry_wrong",
		mcp.WithDescription("After a complete round, practice only the cards answered incorrectly"),
	), handleRetryWrong)
	bind(mcp.NewTool("press_key",
		mcp.WithDescription("Apply a keyboard shortcut: space reveals, a grades correct, d grades incorrect, ArrowRight and ArrowLeft move"),
		mcp.WithString("key", mcp.Required(), mcp.Description("The key name")),
	), handlePressKey)

	// Speech and preferences
	bind(mcp.NewTool("speak_card",
		mcp.WithDescription("Read the front of the current card aloud"),
	), handleSpeakCard)
	bind(mcp.NewTool("list_voices",
		mcp.WithDescription("List the English speech voices"),
		mcp.WithBoolean("all", mcp.Description("Include voices of every language")),
	), handleListVoices)
	bind(mcp.NewTool("get_preferences",
		mcp.WithDescription("Show the saved preferences"),
	), handleGetPreferences)
	bind(mcp.NewTool("update_preferences",
		mcp.WithDescription("Change the voice, speech rate, auto-speak or category"),
		mcp.WithString("voice_uri", mcp.Description("Voice URI from list_voices")),
		mcp.WithNumber("rate", mcp.Description("Speech rate between 0.1 and 10")),
		mcp.WithBoolean("auto_speak", mcp.Description("Speak each front when it is shown")),
		mcp.WithString("category", mcp.Description("Category to practice")),
	), handleUpdatePreferences)

	// Dictation
	bind(mcp.NewTool("new_sentence",
		mcp.WithDescription("Generate and speak a new dictation sentence. The text stays hidden until graded."),
	), handleNewSentence)
	bind(mcp.NewTool("submit_dictation",
		mcp.WithDescription("Grade the typed sentence word by word"),
		mcp.WithString("typed", mcp.Required(), mcp.Description("What the learner typed")),
	), handleSubmitDictation)
	bind(mcp.NewTool("speak_sentence",
		mcp.WithDescription("Speak the current dictation sentence again"),
	), handleSpeakSentence)

	// Progress
	bind(mcp.NewTool("progress_stats",
		mcp.WithDescription("Show long-term progress and the cards missed most"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of struggling cards, default 10")),
	), handleProgressStats)

	s.AddResource(
		mcp.NewResource(categoriesURI, "Categories",
			mcp.WithResourceDescription("Card categories with their card counts"),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return handleCategoriesResource(withService(ctx, svc), request)
		},
	)

	return s
}
