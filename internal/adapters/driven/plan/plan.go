package plan

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

// Plan is a YAML description of a conversion run. Fields left out keep
// the values given on the command line.
type Plan struct {
	Source      string    `yaml:"source,omitempty"`
	Destination string    `yaml:"destination,omitempty"`
	Workers     int       `yaml:"workers,omitempty"`
	FastMode    *bool     `yaml:"fast_mode,omitempty"`
	Overwrite   *bool     `yaml:"overwrite,omitempty"`
	Metadata    *Metadata `yaml:"metadata,omitempty"`
	Jobs        []Job     `yaml:"jobs,omitempty"`
}

// Metadata toggles metadata preservation for every job.
type Metadata struct {
	Aliases     *bool `yaml:"aliases,omitempty"`
	Domains     *bool `yaml:"domains,omitempty"`
	PrimaryKeys *bool `yaml:"primary_keys,omitempty"`
}

// Job is one layer copy.
type Job struct {
	Layer       string `yaml:"layer"`
	Destination string `yaml:"destination,omitempty"`
	Table       string `yaml:"table,omitempty"`
	FastMode    *bool  `yaml:"fast_mode,omitempty"`
}

// Load reads a plan file. Relative paths inside the plan are resolved
// against the directory of the file.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.resolve(filepath.Dir(path))
	return p, nil
}

// Decode parses a plan. Unknown keys are rejected.
func Decode(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	p := &Plan{}
	if err := dec.Decode(p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty plan", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) validate() error {
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must be positive", domain.ErrInvalidInput)
	}
	for i, j := range p.Jobs {
		if j.Layer == "" {
			return fmt.Errorf("%w: job %d has no layer", domain.ErrInvalidInput, i+1)
		}
	}
	return nil
}

func (p *Plan) resolve(base string) {
	abs := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(base, s)
	}

	p.Source = abs(p.Source)
	p.Destination = abs(p.Destination)
	for i := range p.Jobs {
		p.Jobs[i].Destination = abs(p.Jobs[i].Destination)
	}
}

// Apply merges the plan into req. Values set in the plan win.
func (p *Plan) Apply(req *driving.RunRequest) {
	if p.Source != "" {
		req.SourcePath = p.Source
	}
	if p.Destination != "" {
		req.Destination = p.Destination
	}
	if p.Workers > 0 {
		req.Workers = p.Workers
	}
	if p.FastMode != nil {
		req.FastMode = *p.FastMode
	}
	if p.Overwrite != nil {
		req.Overwrite = *p.Overwrite
	}
	if m := p.Metadata; m != nil {
		if m.Aliases != nil {
			req.PreserveAliases = *m.Aliases
		}
		if m.Domains != nil {
			req.PreserveDomains = *m.Domains
		}
		if m.PrimaryKeys != nil {
			req.PreservePrimaryKey = *m.PrimaryKeys
		}
	}
	if len(p.Jobs) == 0 {
		return
	}

	req.Jobs = make([]driving.JobSpec, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		req.Jobs = append(req.Jobs, driving.JobSpec{
			Layer:       j.Layer,
			Destination: j.Destination,
			Table:       j.Table,
			FastMode:    j.FastMode,
		})
	}
}

// FromRequest renders a request as a plan, the inverse of Apply.
func FromRequest(req driving.RunRequest) *Plan {
	fast, overwrite := req.FastMode, req.Overwrite
	aliases, domains, keys := req.PreserveAliases, req.PreserveDomains, req.PreservePrimaryKey

	p := &Plan{
		Source:      req.SourcePath,
		Destination: req.Destination,
		Workers:     req.Workers,
		FastMode:    &fast,
		Overwrite:   &overwrite,
		Metadata:    &Metadata{Aliases: &aliases, Domains: &domains, PrimaryKeys: &keys},
	}
	for _, j := range req.Jobs {
		p.Jobs = append(p.Jobs, Job{
			Layer:       j.Layer,
			Destination: j.Destination,
			Table:       j.Table,
			FastMode:    j.FastMode,
		})
	}
	return p
}

// Write encodes the plan as YAML.
func (p *Plan) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
