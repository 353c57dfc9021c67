// Package tables holds the static agronomic lookup tables used by the
// severity scorer and the threshold decision engine. The defaults ship
// embedded in the binary; deployments can overlay site-specific values from
// a YAML override file.
package tables

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

//go:embed data/agronomy.yaml
var embeddedTables []byte

// Default values for conditions absent from the table.
const (
	DefaultBaseSeverity    = 50
	DefaultActionThreshold = 15.0
	DefaultUrgentThreshold = 35.0
)

// ConditionEntry holds the per-condition calibration values.
type ConditionEntry struct {
	BaseSeverity    int     `yaml:"base_severity"`
	ActionThreshold float64 `yaml:"action_threshold"`
	UrgentThreshold float64 `yaml:"urgent_threshold"`
}

type document struct {
	Conditions                map[string]ConditionEntry `yaml:"conditions"`
	Crops                     map[string]float64        `yaml:"crops"`
	GrowthStages              map[string]float64        `yaml:"growth_stages"`
	ThresholdStageMultipliers map[string]float64        `yaml:"threshold_stage_multipliers"`
	ThresholdCropMultipliers  map[string]float64        `yaml:"threshold_crop_multipliers"`
}

// Tables is an immutable snapshot of the agronomic lookup data.
type Tables struct {
	doc   document
	names []string // sorted canonical condition names, for fuzzy lookup
}

// Store provides hot-swappable access to the active tables snapshot.
type Store struct {
	mu     sync.RWMutex
	active *Tables
}

// NewStore creates a store seeded with the embedded defaults.
func NewStore() (*Store, error) {
	t, err := parse(embeddedTables)
	if err != nil {
		return nil, fmt.Errorf("parsing embedded tables: %w", err)
	}
	return &Store{active: t}, nil
}

// Active returns the current snapshot. The snapshot is never mutated, so
// callers may hold it across an entire pipeline run.
func (s *Store) Active() *Tables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ApplyOverride overlays entries from a YAML file onto the embedded
// defaults and swaps the active snapshot.
func (s *Store) ApplyOverride(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading table override: %w", err)
	}

	base, err := parse(embeddedTables)
	if err != nil {
		return err
	}
	var over document
	if err := yaml.Unmarshal(raw, &over); err != nil {
		return fmt.Errorf("parsing table override: %w", err)
	}

	merged := base.doc
	for k, v := range over.Conditions {
		merged.Conditions[Canonical(k)] = v
	}
	for k, v := range over.Crops {
		merged.Crops[Canonical(k)] = v
	}
	for k, v := range over.GrowthStages {
		merged.GrowthStages[Canonical(k)] = v
	}
	for k, v := range over.ThresholdStageMultipliers {
		merged.ThresholdStageMultipliers[Canonical(k)] = v
	}
	for k, v := range over.ThresholdCropMultipliers {
		merged.ThresholdCropMultipliers[Canonical(k)] = v
	}

	s.mu.Lock()
	s.active = fromDocument(merged)
	s.mu.Unlock()
	return nil
}

func parse(raw []byte) (*Tables, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	canon := document{
		Conditions:                make(map[string]ConditionEntry, len(doc.Conditions)),
		Crops:                     make(map[string]float64, len(doc.Crops)),
		GrowthStages:              make(map[string]float64, len(doc.GrowthStages)),
		ThresholdStageMultipliers: make(map[string]float64, len(doc.ThresholdStageMultipliers)),
		ThresholdCropMultipliers:  make(map[string]float64, len(doc.ThresholdCropMultipliers)),
	}
	for k, v := range doc.Conditions {
		canon.Conditions[Canonical(k)] = v
	}
	for k, v := range doc.Crops {
		canon.Crops[Canonical(k)] = v
	}
	for k, v := range doc.GrowthStages {
		canon.GrowthStages[Canonical(k)] = v
	}
	for k, v := range doc.ThresholdStageMultipliers {
		canon.ThresholdStageMultipliers[Canonical(k)] = v
	}
	for k, v := range doc.ThresholdCropMultipliers {
		canon.ThresholdCropMultipliers[Canonical(k)] = v
	}
	return fromDocument(canon), nil
}

func fromDocument(doc document) *Tables {
	names := make([]string, 0, len(doc.Conditions))
	for name := range doc.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Tables{doc: doc, names: names}
}

// Canonical normalizes a condition/crop/stage name: lowercase with
// underscores, so "Late Blight" and "late-blight" both map to "late_blight".
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.Join(strings.Fields(name), "_")
	return name
}

// minFuzzyScore rejects matches that share only a few characters.
const minFuzzyScore = 10

// ResolveCondition maps a model-emitted label onto a canonical table entry.
// Exact canonical matches win; otherwise the closest fuzzy match above the
// score floor is used. The second return reports whether a table entry was
// found at all.
func (t *Tables) ResolveCondition(label string) (string, bool) {
	canon := Canonical(label)
	if _, ok := t.doc.Conditions[canon]; ok {
		return canon, true
	}

	matches := fuzzy.Find(canon, t.names)
	if len(matches) > 0 && matches[0].Score >= minFuzzyScore {
		return matches[0].Str, true
	}
	return canon, false
}

// BaseSeverity returns the base severity for a condition, defaulting to 50
// for unmapped conditions.
func (t *Tables) BaseSeverity(label string) int {
	name, ok := t.ResolveCondition(label)
	if !ok {
		return DefaultBaseSeverity
	}
	return t.doc.Conditions[name].BaseSeverity
}

// Thresholds returns the base action/urgent thresholds for a condition,
// defaulting to 15/35 for unmapped conditions.
func (t *Tables) Thresholds(label string) (action, urgent float64) {
	name, ok := t.ResolveCondition(label)
	if !ok {
		return DefaultActionThreshold, DefaultUrgentThreshold
	}
	e := t.doc.Conditions[name]
	return e.ActionThreshold, e.UrgentThreshold
}

// CropModifier returns the severity crop-type multiplier, 1.0 if unmapped.
func (t *Tables) CropModifier(crop string) float64 {
	if m, ok := t.doc.Crops[Canonical(crop)]; ok {
		return m
	}
	return 1.0
}

// StageModifier returns the severity growth-stage multiplier, 1.0 if unmapped.
func (t *Tables) StageModifier(stage string) float64 {
	if m, ok := t.doc.GrowthStages[Canonical(stage)]; ok {
		return m
	}
	return 1.0
}

// ThresholdStageMultiplier returns the threshold growth-stage multiplier,
// 1.0 if unmapped.
func (t *Tables) ThresholdStageMultiplier(stage string) float64 {
	if m, ok := t.doc.ThresholdStageMultipliers[Canonical(stage)]; ok {
		return m
	}
	return 1.0
}

// ThresholdCropMultiplier returns the threshold crop-type multiplier,
// 1.0 if unmapped.
func (t *Tables) ThresholdCropMultiplier(crop string) float64 {
	if m, ok := t.doc.ThresholdCropMultipliers[Canonical(crop)]; ok {
		return m
	}
	return 1.0
}

// DetectionCountModifier scales severity by how many distinct conditions
// were observed across the images.
func DetectionCountModifier(count int) float64 {
	switch {
	case count == 0:
		return 0.9
	case count == 1:
		return 1.0
	case count == 2:
		return 1.05
	case count == 3:
		return 1.1
	case count <= 5:
		return 1.15
	default:
		return 1.2
	}
}

// ConditionNames returns the canonical condition names, sorted.
func (t *Tables) ConditionNames() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}
