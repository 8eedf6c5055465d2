// Package parser turns raw tabular rows and offline catalog files into
// procedures, assets and result history.
package parser

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

var (
	segmentSep = regexp.MustCompile(`;\s*`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseFieldDSL parses the compact step-field grammar:
//
//	label ; key|Label|type|required|extra ; ...
//
// A bare label becomes a text field keyed by the label with whitespace
// replaced by underscores. Pipe tuples need at least three parts. extra is
// the unit of a number field or the comma-separated options of a select.
// Segments that cannot be parsed are dropped.
func ParseFieldDSL(raw string) []models.FieldDef {
	var fields []models.FieldDef
	for _, segment := range segmentSep.Split(raw, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		if !strings.Contains(segment, "|") {
			key := whitespace.ReplaceAllString(segment, "_")
			fields = append(fields, models.FieldDef{Key: key, Label: segment, Type: models.FieldText})
			continue
		}

		parts := strings.Split(segment, "|")
		if len(parts) < 3 {
			continue
		}
		field := models.FieldDef{
			Key:   strings.TrimSpace(parts[0]),
			Label: strings.TrimSpace(parts[1]),
			Type:  models.ParseFieldType(strings.ToLower(strings.TrimSpace(parts[2]))),
		}
		if field.Key == "" {
			continue
		}
		if len(parts) > 3 {
			field.Required = isYes(parts[3])
		}
		if len(parts) > 4 {
			extra := strings.TrimSpace(parts[4])
			switch field.Type {
			case models.FieldNumber:
				field.Unit = extra
			case models.FieldSelect:
				field.Options = splitOptions(extra)
			}
		}
		fields = append(fields, field)
	}
	return fields
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true":
		return true
	}
	return false
}

func splitOptions(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
