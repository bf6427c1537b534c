package flows

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teecode611-cmyk/studio/internal/domain"
)

const pngURI = "data:image/png;base64,iVBORw0KGgo="

func validationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr
}

func TestStartSessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      StartSessionInput
		field   string
		message string
	}{
		{name: "problem only", in: StartSessionInput{Problem: "Solve 2x + 3 = 7"}},
		{name: "image only", in: StartSessionInput{ImageDataURI: pngURI}},
		{name: "both", in: StartSessionInput{Problem: "What is this?", ImageDataURI: pngURI}},
		{
			name:    "neither",
			in:      StartSessionInput{Problem: "   "},
			field:   "problem",
			message: "Please either provide a problem description or an image.",
		},
		{
			name:  "audio instead of image",
			in:    StartSessionInput{ImageDataURI: "data:audio/webm;base64,AAAA"},
			field: "imageDataUri",
		},
		{
			name:  "not a data uri",
			in:    StartSessionInput{ImageDataURI: "https://example.com/a.png"},
			field: "imageDataUri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StartSession.ValidateInput(tt.in)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			verr := validationError(t, err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, "start_session", verr.Flow)
			if tt.message != "" {
				assert.Equal(t, tt.message, verr.Message)
			}
		})
	}
}

func TestContinueSessionValidation(t *testing.T) {
	in := ContinueSessionInput{Problem: "p", CurrentMessage: "  "}
	verr := validationError(t, ContinueSession.ValidateInput(in))
	assert.Equal(t, "currentMessage", verr.Field)
	assert.Equal(t, "Response cannot be empty.", verr.Error())

	in.CurrentMessage = "maybe 2?"
	in.ConversationHistory = []ChatTurn{{Role: "narrator", Content: "x"}}
	verr = validationError(t, ContinueSession.ValidateInput(in))
	assert.Equal(t, "conversationHistory[0].role", verr.Field)

	in.ConversationHistory = nil
	assert.NoError(t, ContinueSession.ValidateInput(in), "empty history and context are allowed")
}

func TestSummarizeValidation(t *testing.T) {
	verr := validationError(t, Summarize.ValidateInput(SummarizeInput{}))
	assert.Equal(t, "Dialogue is empty.", verr.Message)
}

func TestOutputValidation(t *testing.T) {
	assert.Error(t, StartSession.ValidateOutput(StartSessionOutput{Question: " "}))
	assert.NoError(t, StartSession.ValidateOutput(StartSessionOutput{Question: "Where would you start?"}))
	assert.Error(t, GetHint.ValidateOutput(GetHintOutput{}))
	assert.NoError(t, Summarize.ValidateOutput(SummarizeOutput{Summary: "Good work."}))
}

func TestTranscribeRequiresAudio(t *testing.T) {
	assert.Error(t, Transcribe.ValidateInput(TranscribeInput{AudioDataURI: pngURI}))
	require.NoError(t, Transcribe.ValidateInput(TranscribeInput{AudioDataURI: "data:audio/webm;codecs=opus;base64,GkXfow=="}))

	req, err := Transcribe.Render(TranscribeInput{AudioDataURI: "data:audio/webm;codecs=opus;base64,GkXfow=="}, DefaultPrompts())
	require.NoError(t, err)
	require.Len(t, req.Media, 1)
	assert.Equal(t, "audio/webm", req.Media[0].MIMEType)
}

func TestContinueSessionSectionOrder(t *testing.T) {
	in := ContinueSessionInput{
		Problem:         "Solve 2x + 3 = 7",
		LearningContext: "Topic: fractions\nSummary: s\nKeyLearnings: a",
		ConversationHistory: []ChatTurn{
			{Role: domain.RoleUser, Content: "Solve 2x + 3 = 7"},
			{Role: domain.RoleAssistant, Content: "What could you do first?"},
		},
		CurrentMessage: "subtract 3",
		Progress:       "1. Isolate x. (in progress)",
	}
	req, err := ContinueSession.Render(in, DefaultPrompts())
	require.NoError(t, err)

	order := []string{
		"### Problem",
		"### What the student learned in recent sessions",
		"### Conversation so far",
		"### Progress checklist",
		"### Student's new message",
	}
	last := -1
	for _, heading := range order {
		idx := strings.Index(req.Prompt, heading)
		require.Greater(t, idx, last, heading)
		last = idx
	}
	assert.True(t, strings.HasSuffix(req.Prompt, "subtract 3"))
	assert.Contains(t, req.Prompt, "Student: Solve 2x + 3 = 7\nTutor: What could you do first?")

	again, err := ContinueSession.Render(in, DefaultPrompts())
	require.NoError(t, err)
	assert.Equal(t, req.Prompt, again.Prompt)
}

func TestContinueSessionOmitsEmptySections(t *testing.T) {
	req, err := ContinueSession.Render(ContinueSessionInput{Problem: "p", CurrentMessage: "m"}, DefaultPrompts())
	require.NoError(t, err)
	assert.NotContains(t, req.Prompt, "recent sessions")
	assert.NotContains(t, req.Prompt, "Conversation so far")
	assert.NotContains(t, req.Prompt, "Progress checklist")
}

func TestGetHintListsPreviousHints(t *testing.T) {
	req, err := GetHint.Render(GetHintInput{
		Question:      "Solve 2x + 3 = 7",
		PreviousHints: []string{"Think about inverse operations.", "What undoes +3?"},
	}, DefaultPrompts())
	require.NoError(t, err)
	assert.Contains(t, req.Prompt, "### Hints already given\n- Think about inverse operations.\n- What undoes +3?")
	assert.NotContains(t, req.Prompt, "latest answer")
}

func TestStartSessionRenderAttachesImage(t *testing.T) {
	req, err := StartSession.Render(StartSessionInput{ImageDataURI: pngURI}, DefaultPrompts())
	require.NoError(t, err)
	require.Len(t, req.Media, 1)
	assert.Equal(t, "image/png", req.Media[0].MIMEType)
	assert.NotContains(t, req.Prompt, "### Problem")
	assert.Contains(t, req.Prompt, "attached image")
}

func TestTranscript(t *testing.T) {
	now := time.Now()
	msgs := []domain.Message{
		domain.NewMessage(domain.RoleUser, "Solve 2x + 3 = 7", 0, now),
		domain.NewMessage(domain.RoleAssistant, "What could you do first?", 1, now),
		domain.NewMessage(domain.RoleHint, "Try subtracting.", 2, now),
		domain.NewMessage(domain.RoleUser, "x = 2", 3, now),
	}

	assert.Equal(t,
		"Student: Solve 2x + 3 = 7\nTutor: What could you do first?\nStudent: x = 2",
		Transcript(msgs, false))
	assert.Contains(t, Transcript(msgs, true), "Hint: Try subtracting.")
}

func TestLearningContext(t *testing.T) {
	sessions := make([]*domain.Session, 0, 7)
	for i := range 7 {
		sessions = append(sessions, &domain.Session{
			Topic:        "topic" + string(rune('A'+i)),
			Summary:      "summary",
			KeyLearnings: []string{"a", "b"},
		})
	}

	got := LearningContext(sessions, LearningContextSessions)
	blocks := strings.Split(got, "\n\n---\n\n")
	require.Len(t, blocks, LearningContextSessions)
	assert.Equal(t, "Topic: topicA\nSummary: summary\nKeyLearnings: a, b", blocks[0])
	assert.Empty(t, LearningContext(nil, LearningContextSessions))
}

func TestOpeningMessage(t *testing.T) {
	assert.Equal(t, "Solve it", OpeningMessage(" Solve it ", false))
	assert.Equal(t, "I have uploaded an image of my problem.", OpeningMessage("", true))
	assert.Equal(t, "I've uploaded an image and here's my question: why?", OpeningMessage("why?", true))
	assert.Equal(t, TopicForImage, Topic(""))
}

func TestLoadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.toml")
	require.NoError(t, os.WriteFile(path, []byte("[prompts]\nget_hint = \"Custom hint instructions.\"\nsummarize = \"\"\n"), 0o600))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom hint instructions.", p.GetHint)
	assert.Equal(t, DefaultPrompts().Summarize, p.Summarize)

	p, err = LoadPrompts("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts(), p)

	_, err = LoadPrompts(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestBuilderSkipsBlankSections(t *testing.T) {
	b := NewBuilder("Do the thing.").Section("A", "one").Section("B", "  ").List("C", nil).Section("D", "four")
	assert.Equal(t, []string{"A", "D"}, b.Sections())
	assert.Equal(t, "Do the thing.\n\n### A\none\n\n### D\nfour", b.String())
}
