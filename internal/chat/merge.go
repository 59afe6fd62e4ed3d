package chat

import "strings"

// MergeEvidence combines the translated comment and the audio transcript into
// one labeled narrative. Each side is split into sentences and deduplicated in
// first-occurrence order; the text section always comes first.
func MergeEvidence(translated, transcribed string) string {
	return "Text Comment:\n" + dedupeSentences(translated) +
		"\n\nAudio Transcript:\n" + dedupeSentences(transcribed)
}

// dedupeSentences drops repeated sentences and rejoins the rest with ". ".
// A trailing "." is kept when the source ended a sentence.
func dedupeSentences(text string) string {
	fragments := strings.FieldsFunc(text, isSentenceEnd)

	seen := make(map[string]struct{}, len(fragments))
	unique := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
	}
	if len(unique) == 0 {
		return ""
	}

	out := strings.Join(unique, ". ")
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && isSentenceEnd(rune(trimmed[len(trimmed)-1])) {
		out += "."
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
