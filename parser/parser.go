// Package parser extracts structured facts from the semi-structured
// text payloads the event producer emits: usage accounting, failure
// classification, and background launch acknowledgments. The
// heuristics are tolerant by design; callers must treat every result
// as optional.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/agentboard/domain"
)

// Parser is the seam between ingestion and payload heuristics, so the
// scraping rules can be swapped without touching tracker logic.
type Parser interface {
	// ParseUsage extracts token accounting from free text. Returns
	// nil when no usage field was found; a non-nil result with zero
	// fields means usage was reported as zero.
	ParseUsage(text string) *domain.Usage

	// SniffFailure classifies a completion payload. An explicit flag
	// always wins; without one, a bounded prefix of the text is
	// scanned for failure vocabulary.
	SniffFailure(text string, isError *bool) bool

	// DetectLaunchAck reports whether a background-record payload is
	// only the launch acknowledgment (agent still running), pulling
	// out the task id and output file reference when present.
	DetectLaunchAck(text string) (ack bool, taskID, outputFile string)
}

// V1 is the current heuristic set.
type V1 struct{}

var _ Parser = V1{}

var (
	usageBlockRe = regexp.MustCompile(`(?is)<usage>(.*?)</usage>`)
	tokensRe     = regexp.MustCompile(`(?i)(?:total[_\s]?)?tokens\D{0,3}(\d+)`)
	toolUsesRe   = regexp.MustCompile(`(?i)tool[_\s]?uses\D{0,3}(\d+)`)
	durationRe   = regexp.MustCompile(`(?i)duration[_\s]?(?:ms)?\D{0,3}(\d+)`)

	launchAckRe = regexp.MustCompile(`(?i)(?:launched|started|running)\s+in\s+(?:the\s+)?background`)
	taskIDRe    = regexp.MustCompile(`(?i)(?:task|agent)[_\s]?id\W{0,3}([\w.-]+)`)
	outFileRe   = regexp.MustCompile(`(?i)output\s+(?:file|path)\W{0,3}(\S+)`)
)

// sniffLimit bounds how much of a payload the failure sniff reads.
const sniffLimit = 500

var failureWords = []string{"error", "exception", "traceback", "failed"}

func (V1) ParseUsage(text string) *domain.Usage {
	if text == "" {
		return nil
	}
	scope := text
	if m := usageBlockRe.FindStringSubmatch(text); m != nil {
		scope = m[1]
	}

	var u domain.Usage
	found := false
	if n, ok := firstInt(tokensRe, scope); ok {
		u.Tokens = n
		found = true
	}
	if n, ok := firstInt(toolUsesRe, scope); ok {
		u.ToolUses = n
		found = true
	}
	if n, ok := firstInt(durationRe, scope); ok {
		u.DurationMs = n
		found = true
	}
	if !found {
		return nil
	}
	return &u
}

func (V1) SniffFailure(text string, isError *bool) bool {
	if isError != nil {
		return *isError
	}
	prefix := text
	if len(prefix) > sniffLimit {
		prefix = prefix[:sniffLimit]
	}
	prefix = strings.ToLower(prefix)
	for _, w := range failureWords {
		if strings.Contains(prefix, w) {
			return true
		}
	}
	return false
}

func (V1) DetectLaunchAck(text string) (bool, string, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true, "", ""
	}
	if !launchAckRe.MatchString(trimmed) {
		return false, "", ""
	}
	var taskID, outputFile string
	if m := taskIDRe.FindStringSubmatch(trimmed); m != nil {
		taskID = m[1]
	}
	if m := outFileRe.FindStringSubmatch(trimmed); m != nil {
		outputFile = m[1]
	}
	return true, taskID, outputFile
}

func firstInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// previewLimit bounds derived preview fields.
const previewLimit = 500

// Preview returns a bounded, rune-safe prefix of s for display.
func Preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewLimit {
		return s
	}
	cut := s[:previewLimit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
