package flows

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Prompts holds the instruction preamble of every flow.
type Prompts struct {
	StartSession    string `toml:"start_session"`
	ContinueSession string `toml:"continue_session"`
	GetHint         string `toml:"get_hint"`
	Summarize       string `toml:"summarize"`
	Transcribe      string `toml:"transcribe"`
}

// DefaultPrompts returns the built-in instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		StartSession: `You are a patient tutor who helps students reach answers on their own through Socratic questioning.
A student has just shared a new problem. Do not solve it and do not state the answer.
Ask exactly one opening question that helps the student think about where to begin.
Also draft a short numbered checklist of the steps toward a solution, marking step 1 ("1. Understand the problem.") as the current step.`,

		ContinueSession: `You are a Socratic tutor. Guide the student toward their own solution and never give the answer outright.
Reply with one probing, open-ended question or a brief comment followed by a question.
Use the learning history to connect this problem to concepts the student has already met.
If the student's message changes where they stand, rewrite the whole progress checklist; otherwise leave it out.`,

		GetHint: `You are a tutor giving hints that become gradually more specific.
Give one new hint that moves the student a single step closer to the solution without revealing it.
Never repeat or rephrase a hint that has already been given.`,

		Summarize: `You are a tutor who has just finished a session with a student.
Write a short, encouraging recap of what the student worked through, where they struggled, and what they figured out.
List the key concepts they learned as short phrases.`,

		Transcribe: `Transcribe the attached audio recording into plain text. Return only the words that were spoken.`,
	}
}

type promptFile struct {
	Prompts Prompts `toml:"prompts"`
}

// LoadPrompts reads overrides from a TOML file with a [prompts] table.
// Missing or blank entries keep the built-in instructions.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("read prompts file: %w", err)
	}

	var file promptFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return prompts, fmt.Errorf("parse prompts file: %w", err)
	}

	override(&prompts.StartSession, file.Prompts.StartSession)
	override(&prompts.ContinueSession, file.Prompts.ContinueSession)
	override(&prompts.GetHint, file.Prompts.GetHint)
	override(&prompts.Summarize, file.Prompts.Summarize)
	override(&prompts.Transcribe, file.Prompts.Transcribe)
	return prompts, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
