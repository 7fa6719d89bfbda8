package service

import "fmt"

// summarySystemPrompt frames all summarization calls. Low-temperature
// extraction, not creative rewriting.
const summarySystemPrompt = `You are a precise summarization engine. You condense large tool outputs ` +
	`while preserving every detail relevant to the user's request. You keep exact values: ` +
	`numbers, dates, names, identifiers, file paths, URLs, error messages, and code snippets. ` +
	`You never add commentary or speculation.`

// minimalSystemPrompt replaces the full assistant system prompt after a
// context rebuild.
const minimalSystemPrompt = `You are a helpful assistant. Answer the user's request using the ` +
	`summarized tool output provided.`

func focusedSummaryPrompt(request, content string) string {
	return fmt.Sprintf(`The user asked: %q

The following tool output was produced while working on that request. Summarize it, keeping everything needed to answer the request and discarding the rest.

%s`, request, content)
}

func chunkSummaryPrompt(request, chunk string, index, total int) string {
	return fmt.Sprintf(`The user asked: %q

Below is part %d of %d of a large tool output produced while working on that request. Summarize this part, keeping everything needed to answer the request. Note that this is a partial view; do not draw conclusions that require the other parts.

%s`, request, index, total, chunk)
}

func consolidatePrompt(request, combined string) string {
	return fmt.Sprintf(`The user asked: %q

Below are summaries of consecutive parts of a large tool output. Merge them into a single coherent summary, removing redundancy between parts while keeping everything needed to answer the request.

%s`, request, combined)
}
