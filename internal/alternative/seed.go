package alternative

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/partwise/pricing-cli/internal/model"
)

// SeedFile is the YAML layout accepted by the seed command:
//
//	categories:
//	  - name: midrange-gpu
//	    component_type: gpu
//	    candidates:
//	      - alternative_key: B0C7W8GZMJ
//	        alternative_name: RTX 4070
//	        priority: 10
//	candidates:
//	  - original_key: B0BSHF7WHW
//	    alternative_key: B0CGM6B1Z9
//	    priority: 1
type SeedFile struct {
	Categories []SeedCategory               `yaml:"categories"`
	Candidates []model.AlternativeCandidate `yaml:"candidates"`
}

// SeedCategory is a category together with its candidates.
type SeedCategory struct {
	model.AlternativeCategory `yaml:",inline"`
	Candidates                []model.AlternativeCandidate `yaml:"candidates"`
}

// SeedStore is the persistence needed to apply a seed file.
type SeedStore interface {
	UpsertCategory(ctx context.Context, cat *model.AlternativeCategory) error
	CreateCandidate(ctx context.Context, cand *model.AlternativeCandidate) error
}

// SeedReport counts what a seed run wrote.
type SeedReport struct {
	Categories int `json:"categories"`
	Candidates int `json:"candidates"`
}

// LoadSeed decodes and validates a seed file. Unknown fields are rejected.
func LoadSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, eris.New("alternative: seed file is empty")
		}
		return nil, eris.Wrap(err, "alternative: decode seed file")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every category and candidate is addressable.
func (f *SeedFile) Validate() error {
	for i, c := range f.Categories {
		if c.Name == "" || c.ComponentType == "" {
			return eris.Errorf("alternative: seed category %d needs name and component_type", i+1)
		}
		for j, cand := range c.Candidates {
			if cand.AlternativeKey == "" {
				return eris.Errorf("alternative: seed category %q candidate %d has no alternative_key", c.Name, j+1)
			}
		}
	}
	for i, cand := range f.Candidates {
		if cand.AlternativeKey == "" || cand.OriginalKey == "" {
			return eris.Errorf("alternative: seed candidate %d needs original_key and alternative_key", i+1)
		}
	}
	return nil
}

// Apply writes the seed file. Seeded candidates are always active; a category's
// candidates are linked to the category's stored id.
func (f *SeedFile) Apply(ctx context.Context, s SeedStore) (SeedReport, error) {
	var rep SeedReport
	for _, sc := range f.Categories {
		cat := sc.AlternativeCategory
		if err := s.UpsertCategory(ctx, &cat); err != nil {
			return rep, eris.Wrapf(err, "alternative: seed category %s", cat.Name)
		}
		rep.Categories++
		for _, cand := range sc.Candidates {
			cand.CategoryID = &cat.ID
			if err := createSeeded(ctx, s, cand); err != nil {
				return rep, err
			}
			rep.Candidates++
		}
	}
	for _, cand := range f.Candidates {
		if err := createSeeded(ctx, s, cand); err != nil {
			return rep, err
		}
		rep.Candidates++
	}
	return rep, nil
}

func createSeeded(ctx context.Context, s SeedStore, cand model.AlternativeCandidate) error {
	cand.Active = true
	if cand.Priority == 0 {
		cand.Priority = 100
	}
	return eris.Wrapf(s.CreateCandidate(ctx, &cand), "alternative: seed candidate %s", cand.AlternativeKey)
}
