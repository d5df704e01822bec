package admin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/martiert/bongbot/internal/config"
)

// State is a step in the instance creation dialogue. The requester is
// walked through the states in order, each answer filling in part of the
// event config.
type State int

const (
	StateLimit State = iota
	StateWelcome
	StateAdministrators
	StateIgnore
	StateDone
)

const (
	limitQuestion   = "How many bongs will you allow per person? (0 means unlimited bongs)"
	welcomeQuestion = "What do you want as your welcome message?"

	administratorsQuestion = `Currently, only you are administrator for this instance.

Add more by writing a comma-separated list of emails (e.g. 'first@gmail.com,second@domain.com')
If you want to be the only administrator, write 'None'
`

	ignoreQuestion = `Are there any emails you want ignored?

If so, add them by writing a comma-separated list of emails (e.g. 'first@gmail.com,second@domain.com')
If you don't want to ignore anyone, write 'None'
`
)

// Done reports whether the dialogue has finished.
func (s State) Done() bool {
	return s == StateDone
}

// Question returns the prompt sent to the requester for this state.
func (s State) Question() string {
	switch s {
	case StateLimit:
		return limitQuestion
	case StateWelcome:
		return welcomeQuestion
	case StateAdministrators:
		return administratorsQuestion
	case StateIgnore:
		return ignoreQuestion
	}
	return ""
}

// Answer applies the requester's answer to the config and returns the next
// state. A rejected answer returns the current state unchanged together
// with the error to send back.
func (s State) Answer(cfg *config.Event, text string) (State, error) {
	switch s {
	case StateLimit:
		limit, err := parseLimit(text)
		if err != nil {
			return s, err
		}
		if limit != 0 {
			cfg.Bongs.Limit = limit
		}
		return StateWelcome, nil

	case StateWelcome:
		cfg.Bongs.WelcomeMessage = text
		return StateAdministrators, nil

	case StateAdministrators:
		cfg.Administrators = append(cfg.Administrators, parseEmailList(text)...)
		return StateIgnore, nil

	case StateIgnore:
		cfg.Ignore = append(cfg.Ignore, parseEmailList(text)...)
		return StateDone, nil
	}
	return s, nil
}

func parseLimit(text string) (int, error) {
	if !isDigits(text) {
		return 0, fmt.Errorf("'%s' is not a digit", text)
	}
	limit, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a digit", text)
	}
	return limit, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseEmailList splits a comma-separated answer into trimmed entries.
// The answer 'none' in any casing means no entries.
func parseEmailList(text string) []string {
	if strings.EqualFold(strings.TrimSpace(text), "none") {
		return nil
	}
	parts := strings.Split(text, ",")
	emails := make([]string, 0, len(parts))
	for _, part := range parts {
		emails = append(emails, strings.TrimSpace(part))
	}
	return emails
}
