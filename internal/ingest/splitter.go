package ingest

import (
	"strings"
)

// DefaultChunkChars targets chunk bodies that embed comfortably within the
// embedder's token limit.
const DefaultChunkChars = 4000

// SplitSection splits one section into embedding-sized chunk texts.
// Each chunk carries the section heading as context. Splits prefer
// paragraph boundaries, then sentence boundaries, then a hard cut.
func SplitSection(sec Section, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	prefix := ""
	if sec.Heading != "" {
		prefix = sec.Heading + "\n\n"
	}
	budget := maxChars - len(prefix)
	if budget < 200 {
		budget = 200
	}

	if len(sec.Body) <= budget {
		return []string{prefix + sec.Body}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, prefix+strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(sec.Body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > budget {
			flush()
			for _, piece := range splitLongParagraph(para, budget) {
				chunks = append(chunks, prefix+piece)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitLongParagraph cuts an over-long paragraph on sentence boundaries,
// falling back to hard cuts for unbroken runs.
func splitLongParagraph(para string, budget int) []string {
	var out []string
	var current strings.Builder

	for _, sentence := range splitSentences(para) {
		if len(sentence) > budget {
			if current.Len() > 0 {
				out = append(out, strings.TrimSpace(current.String()))
				current.Reset()
			}
			for len(sentence) > budget {
				out = append(out, sentence[:budget])
				sentence = sentence[budget:]
			}
			if sentence != "" {
				current.WriteString(sentence)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(sentence)+1 > budget {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

// splitSentences performs a cheap sentence split on terminal punctuation.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Consume trailing punctuation/space.
			end := i + 1
			for end < len(text) && (text[end] == ' ' || text[end] == '\n') {
				end++
			}
			if s := strings.TrimSpace(text[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
			i = end - 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
