package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StaticCompleter answers deterministically without any network call. It is
// used when no chat endpoint is configured so the rest of the pipeline stays
// usable in local development and tests.
type StaticCompleter struct{}

func NewStaticCompleter() *StaticCompleter {
	return &StaticCompleter{}
}

func (s *StaticCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var system, user string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			user = m.Content
		}
	}
	subject, style := splitStyleLine(user)
	switch {
	case strings.Contains(system, "CLIP encoding"):
		return clipify(subject), nil
	case strings.HasPrefix(user, "reduce the number of words"):
		return shorten(afterMarker(user, "Prompt:")), nil
	case strings.Contains(user, "Improvements:"):
		return afterMarker(subject, "Prompt:") + ", improved lighting and contrast", nil
	}
	title := cases.Title(language.English)
	if style == "" {
		style = "photograph"
	}
	return fmt.Sprintf("%s of %s, natural light, clear focal point, balanced composition, rich detail",
		title.String(style), strings.TrimSuffix(subject, ".")), nil
}

func splitStyleLine(text string) (string, string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var style string
	kept := lines[:0]
	for _, line := range lines {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "style:"); ok {
			style = strings.TrimSpace(v)
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, " ")), style
}

func afterMarker(text, marker string) string {
	if i := strings.LastIndex(text, marker); i >= 0 {
		return strings.TrimSpace(text[i+len(marker):])
	}
	return strings.TrimSpace(text)
}

func shorten(text string) string {
	words := strings.Fields(text)
	if len(words) <= 8 {
		return strings.Join(words, " ")
	}
	return strings.TrimRight(strings.Join(words[:len(words)*2/3], " "), ",.;")
}

func clipify(text string) string {
	replacer := strings.NewReplacer(" and ", ", ", " with ", ", ", ". ", ", ")
	parts := strings.Split(replacer.Replace(strings.ToLower(text)), ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(strings.Trim(p, ".")); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

var _ Completer = (*StaticCompleter)(nil)
