package types

import "strings"

// Method is the orchestration strategy between image and model generation.
type Method string

const (
	MethodImageFirst Method = "IMAGE_FIRST"
	MethodModelFirst Method = "MODEL_FIRST"
	MethodHybrid     Method = "HYBRID"
)

// ParseMethod accepts either the canonical name or its lower-case form
// ("image_first", "model_first", "hybrid").
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", Errorf(ErrValidation, "unknown generation method %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodImageFirst, MethodModelFirst, MethodHybrid:
		return true
	}
	return false
}

// Quality is a per-stage quality tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// Rank orders quality tiers: low 0, medium 1, high 2, ultra 3; unknown is -1.
func (q Quality) Rank() int {
	switch q {
	case QualityLow:
		return 0
	case QualityMedium:
		return 1
	case QualityHigh:
		return 2
	case QualityUltra:
		return 3
	}
	return -1
}

// Valid reports whether q is a known tier.
func (q Quality) Valid() bool { return q.Rank() >= 0 }

// Complexity is the scene complexity tier.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Valid reports whether c is a known complexity.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	}
	return false
}
