package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from first h1 or frontmatter
	Title string

	// Main content (after frontmatter)
	Content string

	Sections []Section
}

// Section represents a heading and its content.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	stepHeading  = regexp.MustCompile(`(?i)^step\s+(\d+)\b[:.\s-]*(.*)$`)
)

// ParseMarkdown parses a Markdown document into structured form.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx > 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				return nil, fmt.Errorf("parse frontmatter: %w", err)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)

	return doc, nil
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0

	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			currentSection.End = endLine
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			flushSection(lineNum - 1)
			currentSection = &Section{
				Level:   len(match[1]),
				Heading: strings.TrimSpace(match[2]),
				Start:   lineNum,
			}
		} else if currentSection != nil {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		}
	}

	flushSection(lineNum)

	return sections
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	switch v := d.Frontmatter[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// GetFrontmatterInt extracts an integer from frontmatter.
func (d *MarkdownDoc) GetFrontmatterInt(key string) int {
	switch v := d.Frontmatter[key].(type) {
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// ParseProcedureMarkdown reads a procedure written as Markdown:
//
//	---
//	id: P1
//	asset_type: Pump
//	duration: 45
//	---
//	# Pump check
//	## Step 1: Inspect housing
//	Look for cracks.
//	Expected: No visible damage
//	Fields: psi|Pressure|number|y|psi
//
// Recognized line prefixes inside a step are Expected, Warning, Image,
// Verifiers and Fields; all other lines form the description.
func ParseProcedureMarkdown(content string) (*models.Procedure, error) {
	doc, err := ParseMarkdown(content)
	if err != nil {
		return nil, err
	}

	p := &models.Procedure{
		ID:                       doc.GetFrontmatterString("id"),
		AssetType:                doc.GetFrontmatterString("asset_type"),
		Name:                     doc.Title,
		EstimatedDurationMinutes: doc.GetFrontmatterInt("duration"),
	}
	if p.ID == "" {
		return nil, fmt.Errorf("procedure markdown: missing id in frontmatter")
	}
	if p.EstimatedDurationMinutes <= 0 {
		p.EstimatedDurationMinutes = DefaultDurationMinutes
	}

	var rows [][]string
	for _, s := range doc.Sections {
		match := stepHeading.FindStringSubmatch(s.Heading)
		if match == nil {
			continue
		}
		rows = append(rows, stepRow(p, match[1], strings.TrimSpace(match[2]), s.Content))
	}

	built := BuildProcedures(rows)
	if len(built) == 1 {
		p.Steps = built[0].Steps
	}
	return p, nil
}

// stepRow renders a Markdown step section as a procedure sheet row so
// both sources share the merge rules of BuildProcedures.
func stepRow(p *models.Procedure, number, title, body string) []string {
	row := make([]string, procColVerifiers+1)
	row[procColID] = p.ID
	row[procColAssetType] = p.AssetType
	row[procColName] = p.Name
	row[procColStepNumber] = number
	row[procColDuration] = strconv.Itoa(p.EstimatedDurationMinutes)

	var desc []string
	if title != "" {
		desc = append(desc, title)
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		switch {
		case ok && strings.EqualFold(key, "expected"):
			row[procColExpected] = value
		case ok && strings.EqualFold(key, "warning"):
			row[procColWarning] = value
		case ok && strings.EqualFold(key, "image"):
			row[procColImageURL] = value
		case ok && strings.EqualFold(key, "verifiers"):
			row[procColVerifiers] = value
		case ok && strings.EqualFold(key, "fields"):
			row[procColFields] = value
		default:
			desc = append(desc, line)
		}
	}
	row[procColDescription] = strings.Join(desc, " ")
	return row
}
