// Package rag implements the knowledge pipeline: chunking, embedding,
// vector retrieval and prompt assembly for grounded chat.
package rag

// SplitText splits text into an ordered sequence of chunks of at most
// maxLen runes, with no overlap. Splitting is rune-safe: a multi-byte
// character is never cut in half. Whitespace-only input yields no chunks.
func SplitText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1000
	}

	runes := []rune(text)
	if !hasContent(runes) {
		return nil
	}

	var chunks []string
	for start := 0; start < len(runes); start += maxLen {
		end := start + maxLen
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func hasContent(runes []rune) bool {
	for _, r := range runes {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return true
		}
	}
	return false
}
