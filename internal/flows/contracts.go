// Package flows defines the typed contracts of every tutoring operation and
// the rules for assembling the context sent to the model with each call.
package flows

import "github.com/teecode611-cmyk/studio/internal/domain"

// StartSessionInput opens a session from problem text, an image, or both.
type StartSessionInput struct {
	Problem      string `json:"problem,omitempty" jsonschema:"description=The problem or question the student wants help with"`
	ImageDataURI string `json:"imageDataUri,omitempty" jsonschema:"description=A base64 data URI holding a photo of the problem" validate:"omitempty,datauri=image"`
}

// StartSessionOutput is the tutor's opening move.
type StartSessionOutput struct {
	Question        string `json:"question" jsonschema:"required,description=The first Socratic question that starts the conversation" validate:"notblank"`
	Hint            string `json:"hint,omitempty" jsonschema:"description=An optional gentle hint to help the student begin"`
	Encouragement   string `json:"encouragement,omitempty" jsonschema:"description=Optional words of encouragement"`
	InitialProgress string `json:"initialProgress,omitempty" jsonschema:"description=A short numbered checklist of solution steps with the first step in progress"`
}

// ChatTurn is one line of prior dialogue as seen by the model.
type ChatTurn struct {
	Role    domain.Role `json:"role" jsonschema:"enum=user,enum=assistant,enum=hint,description=Who produced the message" validate:"oneof=user assistant hint"`
	Content string      `json:"content" jsonschema:"description=The message text"`
}

// ContinueSessionInput carries one chat turn. LearningContext and
// ConversationHistory must be present but may be empty.
type ContinueSessionInput struct {
	Problem             string     `json:"problem" jsonschema:"required,description=The original problem statement" validate:"notblank"`
	LearningContext     string     `json:"learningContext" jsonschema:"required,description=Digest of the student's recent completed sessions"`
	ConversationHistory []ChatTurn `json:"conversationHistory" jsonschema:"required,description=Every confirmed message of this session in order" validate:"dive"`
	CurrentMessage      string     `json:"currentMessage" jsonschema:"required,description=The student's new message" validate:"notblank"`
	Progress            string     `json:"progress,omitempty" jsonschema:"description=The current progress checklist"`
}

// ContinueSessionOutput is the tutor's reply to a chat turn.
type ContinueSessionOutput struct {
	Response        string `json:"response" jsonschema:"required,description=The tutor's next guiding question or comment" validate:"notblank"`
	UpdatedProgress string `json:"updatedProgress,omitempty" jsonschema:"description=The full progress checklist rewritten to reflect this turn"`
}

// GetHintInput asks for one more hint on the problem.
type GetHintInput struct {
	Question      string   `json:"question" jsonschema:"required,description=The problem the student is working on" validate:"notblank"`
	StudentAnswer string   `json:"studentAnswer,omitempty" jsonschema:"description=The student's most recent answer attempt"`
	PreviousHints []string `json:"previousHints,omitempty" jsonschema:"description=Hints already given in this session"`
}

// GetHintOutput is a single new hint.
type GetHintOutput struct {
	Hint string `json:"hint" jsonschema:"required,description=One hint that moves the student forward without revealing the answer" validate:"notblank"`
}

// SummarizeInput is the rendered dialogue of a finished session.
type SummarizeInput struct {
	Dialogue string `json:"dialogue" jsonschema:"required,description=The full session transcript" validate:"notblank"`
}

// SummarizeOutput recaps a session.
type SummarizeOutput struct {
	Summary      string   `json:"summary" jsonschema:"required,description=A concise recap of what the student worked through and learned" validate:"notblank"`
	KeyLearnings []string `json:"keyLearnings,omitempty" jsonschema:"description=Short phrases naming the concepts the student learned"`
}

// TranscribeInput is a recorded spoken answer.
type TranscribeInput struct {
	AudioDataURI string `json:"audioDataUri" jsonschema:"required,description=A base64 data URI holding the audio recording" validate:"required,datauri=audio"`
}

// TranscribeOutput is the recognized text.
type TranscribeOutput struct {
	Transcription string `json:"transcription" jsonschema:"required,description=The transcribed text" validate:"notblank"`
}
