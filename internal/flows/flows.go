package flows

import (
	"fmt"
	"strings"

	"github.com/teecode611-cmyk/studio/internal/media"
)

// Request is a rendered flow invocation ready for a model backend.
type Request struct {
	Prompt string
	Media  []media.DataURI
}

// Flow is a named, schema-validated model operation from I to O.
type Flow[I, O any] struct {
	Name        string
	Description string
	// Messages overrides validation messages, keyed "field.tag" or "field".
	Messages map[string]string
	Render   func(in I, p Prompts) (Request, error)
}

// ValidateInput rejects inputs that violate the flow's input contract.
func (f Flow[I, O]) ValidateInput(in I) error {
	return check(f.Name, in, f.Messages)
}

// ValidateOutput rejects model results that violate the output contract.
func (f Flow[I, O]) ValidateOutput(out O) error {
	return check(f.Name, out, nil)
}

// StartSession poses the first Socratic question for a new problem.
var StartSession = Flow[StartSessionInput, StartSessionOutput]{
	Name:        "start_session",
	Description: "Open a tutoring session with a first guiding question.",
	Messages: map[string]string{
		"problem.problem_or_image": "Please either provide a problem description or an image.",
		"imageDataUri.datauri":     "The image must be a base64 data URI with an image MIME type.",
	},
	Render: func(in StartSessionInput, p Prompts) (Request, error) {
		req := Request{}
		if in.ImageDataURI != "" {
			img, err := media.ParseDataURI(in.ImageDataURI)
			if err != nil {
				return Request{}, fmt.Errorf("start_session: %w", err)
			}
			req.Media = append(req.Media, img)
		}

		problem := strings.TrimSpace(in.Problem)
		b := NewBuilder(p.StartSession).Section("Problem", problem)
		if len(req.Media) > 0 {
			note := "The problem is shown in the attached image."
			if problem != "" {
				note = "The student also attached an image of the problem."
			}
			b.Section("Image", note)
		}
		req.Prompt = b.String()
		return req, nil
	},
}

// ContinueSession produces the tutor's reply to a student message.
var ContinueSession = Flow[ContinueSessionInput, ContinueSessionOutput]{
	Name:        "continue_session",
	Description: "Reply to the student with the next guiding question.",
	Messages: map[string]string{
		"currentMessage": "Response cannot be empty.",
		"problem":        "The session has no problem statement.",
	},
	Render: func(in ContinueSessionInput, p Prompts) (Request, error) {
		b := NewBuilder(p.ContinueSession).
			Section("Problem", in.Problem).
			Section("What the student learned in recent sessions", in.LearningContext).
			Section("Conversation so far", RenderHistory(in.ConversationHistory)).
			Section("Progress checklist", in.Progress).
			Section("Student's new message", in.CurrentMessage)
		return Request{Prompt: b.String()}, nil
	},
}

// GetHint produces one new hint that does not repeat earlier ones.
var GetHint = Flow[GetHintInput, GetHintOutput]{
	Name:        "get_hint",
	Description: "Give one new hint without revealing the answer.",
	Messages: map[string]string{
		"question": "There is no problem to give a hint for.",
	},
	Render: func(in GetHintInput, p Prompts) (Request, error) {
		b := NewBuilder(p.GetHint).
			Section("Problem", in.Question).
			Section("Student's latest answer", in.StudentAnswer).
			List("Hints already given", in.PreviousHints)
		return Request{Prompt: b.String()}, nil
	},
}

// Summarize recaps a completed dialogue.
var Summarize = Flow[SummarizeInput, SummarizeOutput]{
	Name:        "summarize",
	Description: "Recap a finished session and list what the student learned.",
	Messages: map[string]string{
		"dialogue": "Dialogue is empty.",
	},
	Render: func(in SummarizeInput, p Prompts) (Request, error) {
		b := NewBuilder(p.Summarize).Section("Dialogue", in.Dialogue)
		return Request{Prompt: b.String()}, nil
	},
}

// Transcribe converts a recorded answer into text.
var Transcribe = Flow[TranscribeInput, TranscribeOutput]{
	Name:        "transcribe",
	Description: "Transcribe a recorded spoken answer.",
	Messages: map[string]string{
		"audioDataUri": "The recording must be a base64 data URI with an audio MIME type.",
	},
	Render: func(in TranscribeInput, p Prompts) (Request, error) {
		audio, err := media.ParseDataURI(in.AudioDataURI)
		if err != nil {
			return Request{}, fmt.Errorf("transcribe: %w", err)
		}
		return Request{Prompt: NewBuilder(p.Transcribe).String(), Media: []media.DataURI{audio}}, nil
	},
}
