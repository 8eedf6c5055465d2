package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

type catalogFile struct {
	Procedures []catalogProcedure `yaml:"procedures"`
}

type catalogProcedure struct {
	ID        string        `yaml:"id"`
	AssetType string        `yaml:"asset_type"`
	Name      string        `yaml:"name"`
	Duration  int           `yaml:"estimated_duration_minutes"`
	Steps     []catalogStep `yaml:"steps"`
}

type catalogStep struct {
	models.Step `yaml:",inline"`
	// FieldsDSL uses the same grammar as the procedure sheet.
	FieldsDSL string `yaml:"fields_dsl"`
}

// LoadCatalogYAML reads an offline procedure catalog.
func LoadCatalogYAML(r io.Reader) ([]models.Procedure, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	out := make([]models.Procedure, 0, len(file.Procedures))
	seen := make(map[string]bool)
	for i, cp := range file.Procedures {
		if cp.ID == "" {
			return nil, fmt.Errorf("catalog procedure %d: missing id", i)
		}
		if seen[cp.ID] {
			return nil, fmt.Errorf("catalog procedure %s: duplicate id", cp.ID)
		}
		seen[cp.ID] = true

		p := models.Procedure{
			ID:                       cp.ID,
			AssetType:                cp.AssetType,
			Name:                     cp.Name,
			EstimatedDurationMinutes: cp.Duration,
		}
		if p.EstimatedDurationMinutes <= 0 {
			p.EstimatedDurationMinutes = DefaultDurationMinutes
		}
		numbers := make(map[int]bool)
		for _, cs := range cp.Steps {
			step := cs.Step
			if numbers[step.StepNumber] {
				return nil, fmt.Errorf("catalog procedure %s: duplicate step %d", cp.ID, step.StepNumber)
			}
			numbers[step.StepNumber] = true
			if step.RequiredVerifiers < 1 {
				step.RequiredVerifiers = 1
			}
			for i := range step.Fields {
				step.Fields[i].Type = models.ParseFieldType(string(step.Fields[i].Type))
			}
			for _, f := range ParseFieldDSL(cs.FieldsDSL) {
				if !slices.ContainsFunc(step.Fields, func(e models.FieldDef) bool { return e.Key == f.Key }) {
					step.Fields = append(step.Fields, f)
				}
			}
			p.Steps = append(p.Steps, step)
		}
		slices.SortStableFunc(p.Steps, func(a, b models.Step) int { return a.StepNumber - b.StepNumber })
		out = append(out, p)
	}
	return out, nil
}

// LoadCatalog loads procedures from a YAML catalog file, a single Markdown
// procedure, or a directory containing either.
func LoadCatalog(path string) ([]models.Procedure, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	if !info.IsDir() {
		return loadCatalogFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}
	var out []models.Procedure
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".md":
		default:
			continue
		}
		procs, err := loadCatalogFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, procs...)
	}
	return out, nil
}

func loadCatalogFile(path string) ([]models.Procedure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".md") {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		p, err := ParseProcedureMarkdown(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []models.Procedure{*p}, nil
	}

	procs, err := LoadCatalogYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return procs, nil
}
