// Package scanner inspects streamed assistant output line by line for the
// fields the UI and history table care about: commit ids, dollar costs and
// prompts for more user input. It is pattern matching, not a parser; a field
// that does not match is simply absent.
package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// commitRe detects commit hashes in assistant output, e.g.
// "Commit a1b2c3d feat: add door handling" or "Committed a1b2c3d".
var commitRe = regexp.MustCompile(`(?i)(?:Committed|commit) ([0-9a-f]{7,40})`)

// costRe extracts dollar amounts, e.g. "Cost: $0.0421 message".
var costRe = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]+)?)`)

// suppressRes matches noisy warnings emitted when the assistant runs
// without a TTY attached.
var suppressRes = []*regexp.Regexp{
	regexp.MustCompile(`^Can't initialize prompt toolkit: No Windows console found`),
	regexp.MustCompile(`^Terminal does not support pretty output`),
}

// userInputRes detects when the assistant is asking for more information
// instead of committing. The patterns are deliberately broad so new
// phrasings still pause the request for the user.
var userInputRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Please .+\?$`),
	regexp.MustCompile(`(?i)add (?:them|the files) to the chat`),
	regexp.MustCompile(`(?i)stop here so you can`),
	regexp.MustCompile(`(?i)reply with answers`),
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Strip removes ANSI escape sequences from a line of subprocess output.
func Strip(line string) string {
	return ansi.Strip(line)
}

// CommitID returns the first commit hash found in the line, or "".
func CommitID(line string) string {
	m := commitRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// Cost returns the first dollar amount found in the line.
func Cost(line string) (float64, bool) {
	m := costRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NeedsUserInput reports whether the line indicates the assistant expects
// more information before it can continue.
func NeedsUserInput(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, re := range userInputRes {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Suppress reports whether the line is a known no-TTY warning that should
// not be shown to the user.
func Suppress(line string) bool {
	for _, re := range suppressRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// SanitizePrompt flattens a multi-line prompt into a single line safe to
// pass as a command argument: newlines and quotes are removed, runs of
// whitespace collapse to single spaces.
func SanitizePrompt(text string) string {
	text = strings.NewReplacer("\n", " ", "\r", " ", `"`, "", "'", "").Replace(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
