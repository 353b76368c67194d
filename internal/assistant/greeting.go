package assistant

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// GreetingReply answers short greetings without calling the model.
const GreetingReply = "Hi! What would you like to know?"

const maxGreetingLength = 20

var greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hai|hii|hiii|good\s*(morning|afternoon|evening)|yo|sup)\b`)

// IsGreeting reports whether q is a short greeting such as "hi" or
// "hey mahi".
func IsGreeting(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" || utf8.RuneCountInString(q) > maxGreetingLength {
		return false
	}
	return greetingPattern.MatchString(q)
}
