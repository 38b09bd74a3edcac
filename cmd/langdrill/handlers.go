package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danieldreier/langdrill/internal/cards"
	"github.com/danieldreier/langdrill/internal/dictation"
	"github.com/danieldreier/langdrill/internal/generator"
	"github.com/danieldreier/langdrill/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

type serviceKey struct{}

// withService stores s in ctx for the handlers
func withService(ctx context.Context, s *DrillService) context.Context {
	return context.WithValue(ctx, serviceKey{}, s)
}

func serviceFrom(ctx context.Context) (*DrillService, bool) {
	s, ok := ctx.Value(serviceKey{}).(*DrillService)
	return s, ok && s != nil
}

// toolHandler is the signature shared by every tool handler
type toolHandler func(ctx context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// serve adapts a toolHandler to the service stored in ctx
func serve(h toolHandler) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, ok := serviceFrom(ctx)
		if !ok {
			return mcp.NewToolResultError("Error: Service not available"), nil
		}
		return h(ctx, s, request)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func stringArg(request mcp.CallToolRequest, name string) (string, bool) {
	v, ok := request.Params.Arguments[name].(string)
	return v, ok
}

func boolArg(request mcp.CallToolRequest, name string) (bool, bool) {
	v, ok := request.Params.Arguments[name].(bool)
	return v, ok
}

func numberArg(request mcp.CallToolRequest, name string) (float64, bool) {
	v, ok := request.Params.Arguments[name].(float64)
	return v, ok
}

// userMessage turns an error into the text shown to the client
func userMessage(err error) string {
	var status *generator.StatusError
	switch {
	case errors.Is(err, cards.ErrMissingText):
		return "Both front and back text are required"
	case errors.Is(err, cards.ErrCardNotFound):
		return "Card not found"
	case errors.Is(err, cards.ErrInvalidDocument):
		return "Invalid JSON file"
	case errors.Is(err, session.ErrNotRevealed):
		return "Reveal the card before grading it"
	case errors.Is(err, session.ErrInactive):
		return "No active round; reshuffle or restart to keep practicing"
	case errors.Is(err, session.ErrNoCurrentCard):
		return "No card to show for this filter"
	case errors.Is(err, session.ErrRoundNotComplete):
		return "Finish the round before retrying wrong answers"
	case errors.Is(err, session.ErrNothingToRetry):
		return "No wrong answers to retry"
	case errors.Is(err, session.ErrUnknownKey):
		return "No shortcut is bound to that key"
	case errors.Is(err, dictation.ErrNoPhrase):
		return "Request a sentence first"
	case errors.Is(err, dictation.ErrSuperseded):
		return "A newer sentence request replaced this one"
	case errors.Is(err, dictation.ErrEmptySentence):
		return "The sentence service returned no text; try again"
	case errors.Is(err, generator.ErrMissingAPIKey):
		return "Sentence generation is not configured (set DEEPSEEK_API_KEY)"
	case errors.As(err, &status):
		return fmt.Sprintf("Sentence generation failed with status %d", status.Code)
	default:
		return "Error: " + err.Error()
	}
}

// handleCreateCard handles the create_card tool request
func handleCreateCard(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	front, ok := stringArg(request, "front")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: front"), nil
	}
	back, ok := stringArg(request, "back")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: back"), nil
	}
	category, _ := stringArg(request, "category")

	card, err := s.CreateCard(front, back, category)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(CardResponse{Card: card, Status: s.Status()})
}

// handleDeleteCard handles the delete_card tool request
func handleDeleteCard(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := stringArg(request, "card_id")
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: card_id"), nil
	}
	if err := s.DeleteCard(id); err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(DeleteCardResponse{
		Success: true,
		Message: "Card " + id + " deleted",
		Status:  s.Status(),
	})
}

// handleListCards handles the list_cards tool request
func handleListCards(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, _ := stringArg(request, "query")
	category, _ := stringArg(request, "category")

	found := s.ListCards(query, category)
	categories := []string{}
	for _, c := range s.CategoryCounts()[1:] {
		categories = append(categories, c.Category)
	}
	return jsonResult(ListCardsResponse{Cards: found, Total: len(found), Categories: categories})
}

// handleImportCards handles the import_cards tool request
func handleImportCards(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	document, ok := stringArg(request, "document")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: document"), nil
	}
	added, err := s.ImportCards([]byte(document))
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(ImportResponse{
		Added:   added,
		Message: fmt.Sprintf("Imported %d cards", added),
		Status:  s.Status(),
	})
}

// handleExportCards handles the export_cards tool request
func handleExportCards(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, count, err := s.ExportCards()
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(ExportResponse{FileName: cards.ExportFileName, Count: count, Cards: data})
}

// handleSetCategory handles the set_category tool request
func handleSetCategory(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, _ := stringArg(request, "category")
	view, err := s.SetCategory(category)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(view)
}

// handlePracticeStatus handles the practice_status tool request
func handlePracticeStatus(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Status())
}

// handleRevealCard handles the reveal_card tool request
func handleRevealCard(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, _ := stringArg(request, "mode")
	view, err := s.Reveal(strings.ToLower(strings.TrimSpace(mode)))
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(view)
}

// handleGradeCard handles the grade_card tool request
func handleGradeCard(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	correct, ok := boolArg(request, "correct")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: correct"), nil
	}
	graded, view, err := s.Grade(correct)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	grade := session.Incorrect
	if correct {
		grade = session.Correct
	}
	return jsonResult(GradeResponse{Graded: graded, Grade: grade.String(), Status: view})
}

func handleNextCard(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Next())
}

func handlePreviousCard(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Previous())
}

func handleReshuffle(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Reshuffle())
}

func handleRestartRound(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.RestartRound())
}

// handleRoundSummary handles the round_summary tool request
func handleRoundSummary(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Summary())
}

// handleRetryWrong handles the retry_wrong tool request
func handleRetryWrong(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := s.RetryWrong()
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(view)
}

// handlePressKey handles the press_key tool request
func handlePressKey(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, ok := stringArg(request, "key")
	if !ok || key == "" {
		return mcp.NewToolResultError("Missing required parameter: key"), nil
	}
	action, view, err := s.PressKey(key)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(KeyResponse{Action: action, Status: view})
}

// handleSpeakCard handles the speak_card tool request
func handleSpeakCard(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	card, err := s.SpeakCard()
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(SpeakResponse{Speaking: card.Front, Message: "Speaking the current card"})
}

// handleListVoices handles the list_voices tool request
func handleListVoices(ctx context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all, _ := boolArg(request, "all")
	voices, err := s.Voices(ctx, all)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(VoicesResponse{Voices: voices, Selected: s.Preferences().VoiceURI})
}

// handleGetPreferences handles the get_preferences tool request
func handleGetPreferences(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.Preferences())
}

// handleUpdatePreferences handles the update_preferences tool request
func handleUpdatePreferences(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var update PreferencesUpdate
	if v, ok := stringArg(request, "voice_uri"); ok {
		update.VoiceURI = &v
	}
	if v, ok := numberArg(request, "rate"); ok {
		update.Rate = &v
	}
	if v, ok := boolArg(request, "auto_speak"); ok {
		update.AutoSpeak = &v
	}
	if v, ok := stringArg(request, "category"); ok {
		update.Category = &v
	}

	p, err := s.UpdatePreferences(update)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(p)
}

// handleNewSentence handles the new_sentence tool request
func handleNewSentence(ctx context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot, err := s.NewSentence(ctx)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(DictationResponse{Dictation: snapshot})
}

// handleSubmitDictation handles the submit_dictation tool request
func handleSubmitDictation(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typed, ok := stringArg(request, "typed")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: typed"), nil
	}
	snapshot, err := s.SubmitDictation(typed)
	if err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(DictationResponse{Dictation: snapshot})
}

// handleSpeakSentence handles the speak_sentence tool request
func handleSpeakSentence(_ context.Context, s *DrillService, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.SpeakSentence(); err != nil {
		return mcp.NewToolResultError(userMessage(err)), nil
	}
	return jsonResult(SpeakResponse{Message: "Speaking the current sentence"})
}

// handleProgressStats handles the progress_stats tool request
func handleProgressStats(_ context.Context, s *DrillService, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 10
	if v, ok := numberArg(request, "limit"); ok && v >= 0 {
		limit = int(v)
	}
	return jsonResult(s.ProgressReport(limit))
}

// handleCategoriesResource lists the categories with their card counts
func handleCategoriesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s, ok := serviceFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("service not available")
	}
	jsonBytes, err := json.MarshalIndent(s.CategoryCounts(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
