package summary

import (
	"context"
	"encoding/json"
	"strings"
)

// StructuredNote is the clinical note a full transcript folds into. Fields
// map directly onto the stored transcription document.
type StructuredNote struct {
	ChiefComplaint          string `json:"chief_complaint"`
	HistoryOfPresentIllness string `json:"history_of_present_illness"`
	OtherRelevantInfo       string `json:"other_relevant_info"`
}

// foldPrompt extends the clinical framing with a strict output contract so
// the reply can be decoded into a [StructuredNote].
const foldPrompt = summaryPrompt + `

Respond with a single JSON object and nothing else, using exactly these keys:
{"chief_complaint": "...", "history_of_present_illness": "...", "other_relevant_info": "..."}`

// Folder condenses a full transcript into a [StructuredNote] via the
// configured [Completer].
type Folder struct {
	llm Completer
}

// NewFolder returns a Folder backed by the given Completer.
func NewFolder(llm Completer) *Folder {
	return &Folder{llm: llm}
}

// Fold asks the model for a structured note over the whole transcript. When
// the reply is not valid JSON (models occasionally answer in prose despite
// the contract), the raw text is preserved under OtherRelevantInfo rather
// than discarded. Without a model the transcript is kept verbatim under
// OtherRelevantInfo so nothing is lost.
func (f *Folder) Fold(ctx context.Context, transcript string) (StructuredNote, error) {
	if f.llm == nil {
		return StructuredNote{OtherRelevantInfo: strings.TrimSpace(transcript)}, nil
	}

	reply, err := f.llm.Complete(ctx, foldPrompt, transcript)
	if err != nil {
		return StructuredNote{}, err
	}

	note, ok := decodeNote(reply)
	if !ok {
		note = StructuredNote{OtherRelevantInfo: strings.TrimSpace(reply)}
	}
	return note, nil
}

// decodeNote parses a model reply into a StructuredNote, tolerating a fenced
// code block around the JSON object.
func decodeNote(reply string) (StructuredNote, bool) {
	body := strings.TrimSpace(reply)
	if after, found := strings.CutPrefix(body, "```json"); found {
		body = after
	} else if after, found := strings.CutPrefix(body, "```"); found {
		body = after
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	body = strings.TrimSpace(body)

	var note StructuredNote
	if err := json.Unmarshal([]byte(body), &note); err != nil {
		return StructuredNote{}, false
	}
	if note == (StructuredNote{}) {
		return StructuredNote{}, false
	}
	return note, true
}
