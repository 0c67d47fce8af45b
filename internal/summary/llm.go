// Package summary turns a session's raw transcript into clinical prose and a
// structured note. It folds the running conversation through an LLM and keeps
// a rule-based extraction path alongside so summaries degrade rather than
// fail when no model is reachable.
package summary

import "context"

// Completer is the minimal LLM surface the summarizers need: one system
// prompt, one user payload, one text reply. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// summaryPrompt frames the model as a clinician summarizing an ongoing,
// speaker-unattributed consultation. The transcript arrives as the user
// message.
const summaryPrompt = `You are a clinical expert who is summarizing the conversation between a patient and a doctor.
The patient is describing their symptoms and the doctor is asking questions to understand the patient's condition.
Please note that the transcription and summarization is continuous, so you should summarize the conversation as it progresses.
We could not tell patient and physician apart, so you should summarize the conversation as a whole.
Your output language should be the same as the input language.

Please provide a structured summary including:
1. Chief complaints or main symptoms mentioned
2. Key questions asked by the doctor
3. Patient responses and additional details
4. Any medical history mentioned
5. Assessment or next steps discussed`
