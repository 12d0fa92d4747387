// Package mascot maps BMI categories and levels to mascot variants and
// defines the level badges. The catalog ships embedded in the binary.
package mascot

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/habitquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BMI CATEGORY
// ══════════════════════════════════════════════════════════════════════════════

// BMICategory - категория индекса массы тела.
type BMICategory string

const (
	BMIUnknown     BMICategory = ""
	BMIUnderweight BMICategory = "underweight"
	BMINormal      BMICategory = "normal"
	BMIOverweight  BMICategory = "overweight"
	BMIObese       BMICategory = "obese"
)

// String returns the string representation.
func (c BMICategory) String() string {
	return string(c)
}

// ClassifyBMI derives the category from height in centimetres and weight in kilograms.
func ClassifyBMI(heightCm, weightKg float64) (BMICategory, error) {
	if heightCm <= 0 || weightKg <= 0 || math.IsNaN(heightCm) || math.IsNaN(weightKg) {
		return BMIUnknown, shared.ErrInvalidBody
	}
	m := heightCm / 100
	bmi := weightKg / (m * m)
	switch {
	case bmi < 18.5:
		return BMIUnderweight, nil
	case bmi < 25:
		return BMINormal, nil
	case bmi < 30:
		return BMIOverweight, nil
	default:
		return BMIObese, nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGES AND BADGES
// ══════════════════════════════════════════════════════════════════════════════

// Stage - стадия эволюции маскота (0, 1, 2).
type Stage int

// Badge codes granted on level crossings.
const (
	BadgeLevel5   = "level_5"
	BadgeChampion = "champion"
)

// Badge is a one-time award bound to reaching a level.
type Badge struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Level int    `yaml:"level"`
}

// Assignment - текущий маскот пользователя.
type Assignment struct {
	Category BMICategory
	Stage    Stage
	Variant  string
}

// IsZero reports whether no mascot is assigned.
func (a Assignment) IsZero() bool {
	return a.Variant == ""
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

//go:embed catalog.yaml
var catalogYAML []byte

type catalogDocument struct {
	Stages []struct {
		MinLevel int `yaml:"min_level"`
	} `yaml:"stages"`
	Mascots map[string][]string `yaml:"mascots"`
	Badges  []Badge             `yaml:"badges"`
}

// Catalog is the immutable mascot and badge table.
type Catalog struct {
	stageMinLevels []int
	variants       map[BMICategory][]string
	badges         []Badge
}

var (
	loadOnce       sync.Once
	defaultCatalog *Catalog
	loadErr        error
)

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which can only happen at build time.
func Default() *Catalog {
	loadOnce.Do(func() {
		defaultCatalog, loadErr = Parse(catalogYAML)
	})
	if loadErr != nil {
		panic(fmt.Sprintf("mascot: embedded catalog: %v", loadErr))
	}
	return defaultCatalog
}

// Parse decodes and validates a catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, shared.WrapError("mascot", "LoadCatalog", shared.ErrInvalidFormat, "decode catalog", err)
	}
	if len(doc.Stages) == 0 {
		return nil, shared.ErrCatalogNotValid
	}

	c := &Catalog{
		variants: make(map[BMICategory][]string, len(doc.Mascots)),
	}
	prev := 0
	for i, s := range doc.Stages {
		if s.MinLevel <= prev {
			return nil, shared.WrapError("mascot", "LoadCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("stage %d min_level must increase", i), nil)
		}
		prev = s.MinLevel
		c.stageMinLevels = append(c.stageMinLevels, s.MinLevel)
	}
	for name, variants := range doc.Mascots {
		if len(variants) != len(c.stageMinLevels) {
			return nil, shared.WrapError("mascot", "LoadCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("category %q needs %d variants, has %d", name, len(c.stageMinLevels), len(variants)), nil)
		}
		c.variants[BMICategory(strings.ToLower(name))] = append([]string(nil), variants...)
	}
	for _, b := range doc.Badges {
		if b.Code == "" || b.Level <= 1 {
			return nil, shared.WrapError("mascot", "LoadCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("badge %q needs a code and a level above 1", b.Code), nil)
		}
		c.badges = append(c.badges, b)
	}
	sort.Slice(c.badges, func(i, j int) bool { return c.badges[i].Level < c.badges[j].Level })
	return c, nil
}

// StageForLevel returns the evolution stage of a level.
func (c *Catalog) StageForLevel(level shared.Level) Stage {
	stage := 0
	for i, minLevel := range c.stageMinLevels {
		if level.Int() >= minLevel {
			stage = i
		}
	}
	return Stage(stage)
}

// Variant returns the mascot for (category, stage). ok is false when the
// category has no mapping.
func (c *Catalog) Variant(category BMICategory, stage Stage) (string, bool) {
	variants, ok := c.variants[category]
	if !ok || int(stage) < 0 || int(stage) >= len(variants) {
		return "", false
	}
	return variants[stage], true
}

// HasMapping reports whether the category has mascots at all.
func (c *Catalog) HasMapping(category BMICategory) bool {
	_, ok := c.variants[category]
	return ok
}

// Assign returns the assignment for a category at a level.
func (c *Catalog) Assign(category BMICategory, level shared.Level) (Assignment, bool) {
	stage := c.StageForLevel(level)
	variant, ok := c.Variant(category, stage)
	if !ok {
		return Assignment{}, false
	}
	return Assignment{Category: category, Stage: stage, Variant: variant}, true
}

// BadgesCrossed returns every badge whose level lies in (previous, next].
func (c *Catalog) BadgesCrossed(previous, next shared.Level) []Badge {
	var out []Badge
	for _, b := range c.badges {
		if previous.Int() < b.Level && b.Level <= next.Int() {
			out = append(out, b)
		}
	}
	return out
}

// Badges returns all badge definitions ordered by level.
func (c *Catalog) Badges() []Badge {
	return append([]Badge(nil), c.badges...)
}

// Badge looks up a badge by code.
func (c *Catalog) Badge(code string) (Badge, bool) {
	for _, b := range c.badges {
		if b.Code == code {
			return b, true
		}
	}
	return Badge{}, false
}
