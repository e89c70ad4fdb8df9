package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// QualityCode is a Mandatory_Quality_Flag value.
type QualityCode uint16

const (
	QualityHighPersistent QualityCode = 0
	QualityHighEphemeral  QualityCode = 1
	QualityPoor           QualityCode = 2
	QualityLunarEclipse   QualityCode = 3
	QualityAurora         QualityCode = 4
	QualityGlint          QualityCode = 5
	QualityNoRetrieval    QualityCode = 255

	// QualityInvalid stands in for samples that are not a non-negative
	// integer (NaN, negative, fractional). It is never a recognized code.
	QualityInvalid QualityCode = math.MaxUint16
)

// QualityClass groups quality codes.
type QualityClass int

const (
	ClassUnrecognized QualityClass = iota
	ClassHighQuality
	ClassDegraded
	ClassNoRetrieval
)

func (c QualityClass) String() string {
	switch c {
	case ClassHighQuality:
		return "high_quality"
	case ClassDegraded:
		return "degraded"
	case ClassNoRetrieval:
		return "no_retrieval"
	default:
		return "unrecognized"
	}
}

type qualityEntry struct {
	label string
	class QualityClass
}

var qualityTable = map[QualityCode]qualityEntry{
	QualityHighPersistent: {"High-quality, Persistent nighttime lights", ClassHighQuality},
	QualityHighEphemeral:  {"High-quality, Ephemeral nighttime lights", ClassHighQuality},
	QualityPoor:           {"Poor-quality, Outlier, potential cloud contamination", ClassDegraded},
	QualityLunarEclipse:   {"Lunar eclipse", ClassDegraded},
	QualityAurora:         {"Aurora", ClassDegraded},
	QualityGlint:          {"Glint", ClassDegraded},
	QualityNoRetrieval:    {"No retrieval / Fill value", ClassNoRetrieval},
}

// Recognized reports whether the code is in the fixed code table.
func (c QualityCode) Recognized() bool {
	_, ok := qualityTable[c]
	return ok
}

// Label returns the human-readable category name.
func (c QualityCode) Label() string {
	if e, ok := qualityTable[c]; ok {
		return e.label
	}
	if c == QualityInvalid {
		return "Unrecognized (invalid sample)"
	}
	return fmt.Sprintf("Unrecognized (%d)", c)
}

// Class returns the code's quality class.
func (c QualityCode) Class() QualityClass {
	return qualityTable[c].class
}

// IsHighQuality reports whether the code is 0 or 1.
func (c QualityCode) IsHighQuality() bool { return c.Class() == ClassHighQuality }

// QualityMap holds the per-pixel quality codes of one scene.
type QualityMap struct {
	Width  int
	Height int
	Codes  []QualityCode
}

// InterpretQuality reads the mandatory-quality band. Unknown codes are kept
// verbatim.
func InterpretQuality(band raster.Band) *QualityMap {
	codes := make([]QualityCode, len(band.Data))
	for i, v := range band.Data {
		codes[i] = toQualityCode(v)
	}
	return &QualityMap{Width: band.Width, Height: band.Height, Codes: codes}
}

func toQualityCode(v float64) QualityCode {
	if math.IsNaN(v) || v < 0 || v >= math.MaxUint16 || v != math.Trunc(v) {
		return QualityInvalid
	}
	return QualityCode(v)
}

// Distinct returns the codes present in the scene, ascending.
func (q *QualityMap) Distinct() []QualityCode {
	seen := make(map[QualityCode]struct{})
	for _, c := range q.Codes {
		seen[c] = struct{}{}
	}
	out := make([]QualityCode, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// HighQuality is the high_quality criterion: true for codes 0 and 1.
func (q *QualityMap) HighQuality() []bool {
	out := make([]bool, len(q.Codes))
	for i, c := range q.Codes {
		out[i] = c.IsHighQuality()
	}
	return out
}
