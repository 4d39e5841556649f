// Package text composes the prompt handed to the speech model.
//
// The model reads dialogue tags to pick a speaker, and a cloned voice is
// selected by prefixing its reference transcript, so both concerns live here.
package text

import "strings"

// Dialogue tags understood by the model.
const (
	SpeakerOneTag = "[S1]"
	SpeakerTwoTag = "[S2]"
)

// HasDialogueTag reports whether text already opens with a speaker tag.
func HasDialogueTag(text string) bool {
	return strings.HasPrefix(text, SpeakerOneTag) || strings.HasPrefix(text, SpeakerTwoTag)
}

// TagDialogue prefixes text with the first speaker tag unless it already has one.
func TagDialogue(text string) string {
	if HasDialogueTag(text) {
		return text
	}

	return SpeakerOneTag + " " + text
}

// ComposePrompt tags text and, when transcript is non-empty, prepends the
// cloned voice's transcript verbatim.
func ComposePrompt(text, transcript string) string {
	tagged := TagDialogue(text)
	if transcript == "" {
		return tagged
	}

	return transcript + " " + tagged
}
