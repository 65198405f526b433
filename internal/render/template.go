package render

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Vars are the values available to appearance text.
type Vars struct {
	Name     string
	Date     time.Time
	Reason   string
	Location string
	Contact  string
}

// Expand replaces placeholders in text:
//
//	{{Name}} {{Initials}} {{Date}} {{DateTime}} {{Reason}} {{Location}} {{Contact}}
//
// Unknown placeholders are kept as they are.
func Expand(text string, v Vars) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	date := v.Date
	if date.IsZero() {
		date = time.Now()
	}
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		switch match[2 : len(match)-2] {
		case "Name":
			return v.Name
		case "Initials":
			return Initials(v.Name)
		case "Date":
			return date.Format("2006-01-02")
		case "DateTime":
			return date.Format("2006-01-02 15:04:05 -07:00")
		case "Reason":
			return v.Reason
		case "Location":
			return v.Location
		case "Contact":
			return v.Contact
		}
		return match
	})
}

// Initials returns the upper-cased first letter of every word of name.
// "John Doe" -> "JD"
func Initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		for _, r := range part {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}
