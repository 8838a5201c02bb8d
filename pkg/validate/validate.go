// Package validate checks request payloads against rules declared as data:
// each rule names a field, a message and whether the value violates it.
package validate

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Rule is one check on one field. Broken is evaluated by the caller when the
// rule list is built.
type Rule struct {
	Field   string
	Message string
	Broken  bool
}

// FieldError is a failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is returned when at least one rule failed.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Fields groups messages by field name.
func (e Errors) Fields() map[string][]string {
	out := make(map[string][]string, len(e))
	for _, fe := range e {
		out[fe.Field] = append(out[fe.Field], fe.Message)
	}
	return out
}

// Check returns Errors for every broken rule, ordered by field, or nil.
func Check(rules ...Rule) error {
	var errs Errors
	for _, r := range rules {
		if r.Broken {
			errs = append(errs, FieldError{Field: r.Field, Message: r.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// TooLong reports whether an optional string exceeds max characters.
func TooLong(s *string, max int) bool {
	return s != nil && utf8.RuneCountInString(*s) > max
}

// OutsideLen reports whether s has fewer than min or more than max characters.
func OutsideLen(s string, min, max int) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n < min || n > max
}

// Blank reports whether s is empty after trimming.
func Blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NotMatching reports whether an optional string fails re. Nil is accepted.
func NotMatching(s *string, re *regexp.Regexp) bool {
	return s != nil && !re.MatchString(*s)
}

// BadEmail reports whether an optional string is not a bare email address.
func BadEmail(s *string) bool {
	if s == nil {
		return false
	}
	addr, err := mail.ParseAddress(*s)
	return err != nil || addr.Address != *s
}
