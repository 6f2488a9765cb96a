package domain

import (
	"strconv"
	"strings"
)

// Style is the art type the refined prompt should aim for.
type Style string

const (
	StylePhotograph   Style = "photograph"
	StyleIllustration Style = "illustration"
	StyleOilPainting  Style = "oil painting"
)

// DefaultStyle is applied when a request does not name one.
const DefaultStyle = StylePhotograph

var stylesByID = map[int]Style{
	1: StylePhotograph,
	2: StyleIllustration,
	3: StyleOilPainting,
}

// Styles lists the supported styles in selector order.
func Styles() []Style {
	return []Style{StylePhotograph, StyleIllustration, StyleOilPainting}
}

// ParseStyle accepts a style name or its selector id ("1".."3").
// An empty value yields DefaultStyle.
func ParseStyle(raw string) (Style, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return DefaultStyle, nil
	}
	if id, err := strconv.Atoi(v); err == nil {
		if s, ok := stylesByID[id]; ok {
			return s, nil
		}
		return "", Invalid("style", ErrUnknownStyle)
	}
	v = strings.ReplaceAll(v, "_", " ")
	v = strings.ReplaceAll(v, "-", " ")
	for _, s := range Styles() {
		if string(s) == v {
			return s, nil
		}
	}
	return "", Invalid("style", ErrUnknownStyle)
}
