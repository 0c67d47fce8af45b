package summary

import (
	"strconv"
	"strings"
)

// KeyPoints is the rule-based extraction of a conversation, bucketed by
// keyword category. Each list is capped at three entries.
type KeyPoints struct {
	ChiefComplaints []string `json:"chief_complaints"`
	Symptoms        []string `json:"symptoms"`
	QuestionsAsked  []string `json:"questions_asked"`
	MedicalHistory  []string `json:"medical_history"`
	Assessment      []string `json:"assessment"`
	TotalSegments   int      `json:"total_segments"`
	Summary         string   `json:"summary"`
}

const maxPointsPerCategory = 3

var (
	complaintWords = []string{"complain", "problem", "issue", "concern"}
	symptomWords   = []string{"pain", "hurt", "fever", "cough", "headache", "nausea"}
	historyWords   = []string{"history", "previous", "before", "past", "family"}
	planWords      = []string{"diagnosis", "treatment", "medication", "follow", "next"}
)

// ExtractKeyPoints scans the transcript line by line and buckets each line
// into the categories it mentions. A line can land in several buckets. The
// summary field is left for the caller to fill in.
func ExtractKeyPoints(transcript string) KeyPoints {
	lines := strings.Split(transcript, "\n")
	kp := KeyPoints{TotalSegments: len(lines)}

	for _, line := range lines {
		lower := strings.ToLower(line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if containsAny(lower, complaintWords) {
			kp.ChiefComplaints = appendCapped(kp.ChiefComplaints, trimmed)
		}
		if containsAny(lower, symptomWords) {
			kp.Symptoms = appendCapped(kp.Symptoms, trimmed)
		}
		if strings.Contains(line, "?") {
			kp.QuestionsAsked = appendCapped(kp.QuestionsAsked, trimmed)
		}
		if containsAny(lower, historyWords) {
			kp.MedicalHistory = appendCapped(kp.MedicalHistory, trimmed)
		}
		if containsAny(lower, planWords) {
			kp.Assessment = appendCapped(kp.Assessment, trimmed)
		}
	}

	return kp
}

// ruleBasedSummary is the fallback used when no LLM reply is available. It
// mirrors the key-point buckets into a single pipe-separated line so the
// summarize response is never empty.
func ruleBasedSummary(transcript string) string {
	lines := strings.Split(transcript, "\n")

	var symptoms, questions, responses []string
	questionWords := []string{"what", "when", "where", "how", "why", "which"}
	symptomKeywords := []string{"pain", "hurt", "ache", "fever", "cough", "headache", "nausea", "dizzy", "tired", "swelling"}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(line)

		if containsAny(lower, symptomKeywords) {
			symptoms = append(symptoms, trimmed)
		}
		if strings.Contains(line, "?") || containsAny(lower, questionWords) {
			questions = append(questions, trimmed)
		} else {
			responses = append(responses, trimmed)
		}
	}

	var parts []string
	if len(symptoms) > 0 {
		parts = append(parts, "Symptoms mentioned: "+strings.Join(capped(symptoms, 3), "; "))
	}
	if len(questions) > 0 {
		parts = append(parts, "Key questions: "+strings.Join(capped(questions, 2), "; "))
	}
	if len(responses) > 0 {
		parts = append(parts, "Patient responses: "+strings.Join(capped(responses, 2), "; "))
	}
	if len(parts) == 0 {
		return "No significant content detected in conversation."
	}
	parts = append(parts, "Total conversation length: "+strconv.Itoa(len(lines))+" segments")
	return strings.Join(parts, " | ")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func appendCapped(list []string, item string) []string {
	if len(list) >= maxPointsPerCategory {
		return list
	}
	return append(list, item)
}

func capped(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
