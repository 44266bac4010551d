package portfolio

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// RiskProfile maps a named investor profile to simulation defaults
type RiskProfile struct {
	Name          string  `yaml:"name" json:"name"`
	CapFloorPct   float64 `yaml:"cap_floor_pct" json:"cap_floor_pct"`
	MaxAllocation float64 `yaml:"max_allocation" json:"max_allocation"`
	Description   string  `yaml:"description" json:"description"`
}

// CapFloor returns the floor as a fraction
func (p RiskProfile) CapFloor() float64 {
	return p.CapFloorPct / 100
}

// Constraints returns the advisory limits of the profile
func (p RiskProfile) Constraints() Constraints {
	c := DefaultConstraints()
	if p.MaxAllocation > 0 {
		c.MaxWeight = p.MaxAllocation
	}
	return c
}

// Profiles is the set of selectable profiles
type Profiles struct {
	Default  string        `yaml:"default" json:"default"`
	Profiles []RiskProfile `yaml:"profiles" json:"profiles"`
}

// DefaultProfiles returns the built-in Conservateur / Modéré / Agressif set
func DefaultProfiles() *Profiles {
	return &Profiles{
		Default: "Modéré",
		Profiles: []RiskProfile{
			{Name: "Conservateur", CapFloorPct: 95, MaxAllocation: 0.4, Description: "Capital preservation first"},
			{Name: "Modéré", CapFloorPct: 90, MaxAllocation: 0.6, Description: "Balanced growth and drawdown control"},
			{Name: "Agressif", CapFloorPct: 75, MaxAllocation: 1.0, Description: "Growth with deep drawdowns tolerated"},
		},
	}
}

// LoadProfiles reads a YAML profile file; unknown fields are rejected
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profiles
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every profile and the default reference
func (p *Profiles) Validate() error {
	if len(p.Profiles) == 0 {
		return fmt.Errorf("profiles: at least one profile required")
	}

	seen := make(map[string]struct{}, len(p.Profiles))
	for i, rp := range p.Profiles {
		if strings.TrimSpace(rp.Name) == "" {
			return fmt.Errorf("profiles[%d].name: required", i)
		}
		if rp.CapFloorPct < 50 || rp.CapFloorPct > 100 {
			return fmt.Errorf("profiles[%d].cap_floor_pct: %v outside [50, 100]", i, rp.CapFloorPct)
		}
		if rp.MaxAllocation < 0 || rp.MaxAllocation > 1 {
			return fmt.Errorf("profiles[%d].max_allocation: %v outside [0, 1]", i, rp.MaxAllocation)
		}
		k := foldName(rp.Name)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("profiles[%d].name: duplicate %q", i, rp.Name)
		}
		seen[k] = struct{}{}
	}

	if p.Default != "" {
		if _, ok := p.Lookup(p.Default); !ok {
			return fmt.Errorf("default profile %q not defined", p.Default)
		}
	}
	return nil
}

// Lookup finds a profile by name, ignoring case and accents ("modere" matches "Modéré").
// An empty name selects the default profile.
func (p *Profiles) Lookup(name string) (RiskProfile, bool) {
	if strings.TrimSpace(name) == "" {
		name = p.Default
	}
	want := foldName(name)
	for _, rp := range p.Profiles {
		if foldName(rp.Name) == want {
			return rp, true
		}
	}
	return RiskProfile{}, false
}

// Names lists the profile names in file order
func (p *Profiles) Names() []string {
	names := make([]string, len(p.Profiles))
	for i, rp := range p.Profiles {
		names[i] = rp.Name
	}
	return names
}

func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}
