package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// ShapeKind discriminates the shape union. Every shape carries exactly
// one kind and is validated against that kind's required fields.
type ShapeKind string

const (
	KindRect        ShapeKind = "rect"
	KindEllipse     ShapeKind = "ellipse"
	KindDiamond     ShapeKind = "diamond"
	KindCircle      ShapeKind = "circle"
	KindTriangle    ShapeKind = "triangle"
	KindCylinder    ShapeKind = "cylinder"
	KindCloud       ShapeKind = "cloud"
	KindCallout     ShapeKind = "callout"
	KindStarburst   ShapeKind = "starburst"
	KindText        ShapeKind = "text"
	KindLine        ShapeKind = "line"
	KindArrow       ShapeKind = "arrow"
	KindDoubleArrow ShapeKind = "double-arrow"
	KindConnector   ShapeKind = "connector"
	KindPen         ShapeKind = "pen"
)

// Shape is the tagged union over all drawable variants. Variant-specific
// fields are pointers so that absent and zero-valued fields stay
// distinguishable across JSON round-trips, which the partial-update
// merge relies on.
type Shape struct {
	ID          string    `json:"id"`
	Kind        ShapeKind `json:"type"`
	Stroke      string    `json:"stroke,omitempty"`
	StrokeWidth float64   `json:"strokeWidth,omitempty"`

	// Rectangle-like variants (and the derived bounding box of pen strokes).
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Fill     *string  `json:"fill,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`

	// Text.
	Text       *string  `json:"text,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	FontFamily *string  `json:"fontFamily,omitempty"`
	TextColor  *string  `json:"textColor,omitempty"`

	// Line-like variants.
	X1 *float64 `json:"x1,omitempty"`
	Y1 *float64 `json:"y1,omitempty"`
	X2 *float64 `json:"x2,omitempty"`
	Y2 *float64 `json:"y2,omitempty"`

	// Pen strokes.
	Points [][]float64 `json:"points,omitempty"`
}

func (k ShapeKind) known() bool {
	switch k {
	case KindRect, KindEllipse, KindDiamond, KindCircle, KindTriangle,
		KindCylinder, KindCloud, KindCallout, KindStarburst, KindText,
		KindLine, KindArrow, KindDoubleArrow, KindConnector, KindPen:
		return true
	}
	return false
}

// IsBoxed reports whether the kind carries x/y/width/height geometry.
func (k ShapeKind) IsBoxed() bool {
	switch k {
	case KindRect, KindEllipse, KindDiamond, KindCircle, KindTriangle,
		KindCylinder, KindCloud, KindCallout, KindStarburst, KindText:
		return true
	}
	return false
}

// IsLinear reports whether the kind is a two-endpoint line variant.
func (k ShapeKind) IsLinear() bool {
	switch k {
	case KindLine, KindArrow, KindDoubleArrow, KindConnector:
		return true
	}
	return false
}

// Validate checks that the shape has an id, a known kind and every
// field its kind requires. Partial or malformed shapes are rejected
// here, before they can reach the authoritative state or any peer.
func (s *Shape) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("shape id is required")
	}
	if !s.Kind.known() {
		return fmt.Errorf("unknown shape kind %q", s.Kind)
	}

	switch {
	case s.Kind.IsBoxed():
		if s.X == nil || s.Y == nil || s.Width == nil || s.Height == nil {
			return fmt.Errorf("%s shape %s is missing box geometry", s.Kind, s.ID)
		}
		if s.Kind == KindText && s.Text == nil {
			return fmt.Errorf("text shape %s has no text content", s.ID)
		}
	case s.Kind.IsLinear():
		if s.X1 == nil || s.Y1 == nil || s.X2 == nil || s.Y2 == nil {
			return fmt.Errorf("%s shape %s is missing endpoints", s.Kind, s.ID)
		}
	case s.Kind == KindPen:
		if len(s.Points) == 0 {
			return fmt.Errorf("pen shape %s has no points", s.ID)
		}
		for _, p := range s.Points {
			if len(p) < 2 {
				return fmt.Errorf("pen shape %s has a malformed point", s.ID)
			}
		}
	}
	return nil
}

// Normalize brings derived fields into their canonical form: rotation
// wrapped into [0,360) and the bounding box of a pen stroke recomputed
// from its points.
func (s *Shape) Normalize() {
	if s.Rotation != nil {
		r := math.Mod(*s.Rotation, 360)
		if r < 0 {
			r += 360
		}
		*s.Rotation = r
	}
	if s.Kind == KindPen && len(s.Points) > 0 {
		minX, minY := s.Points[0][0], s.Points[0][1]
		maxX, maxY := minX, minY
		for _, p := range s.Points[1:] {
			minX = math.Min(minX, p[0])
			minY = math.Min(minY, p[1])
			maxX = math.Max(maxX, p[0])
			maxY = math.Max(maxY, p[1])
		}
		w, h := maxX-minX, maxY-minY
		s.X, s.Y, s.Width, s.Height = &minX, &minY, &w, &h
	}
}

// ShapeFromPayload decodes an untrusted wire payload into a validated,
// normalized shape.
func ShapeFromPayload(payload map[string]any) (Shape, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Shape{}, err
	}
	var shape Shape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return Shape{}, err
	}
	if err := shape.Validate(); err != nil {
		return Shape{}, err
	}
	shape.Normalize()
	return shape, nil
}

// Merge returns a copy of the shape with exactly the keys present in
// props overwritten, last-write-wins at the field level. Keys absent
// from props are untouched; a null value deletes the key. The id and
// kind of a shape are fixed at creation and cannot be rewritten by an
// update, and a merge that would leave the shape without a field its
// kind requires is rejected outright.
func (s Shape) Merge(props map[string]any) (Shape, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, err
	}
	for k, v := range props {
		if k == "id" || k == "type" {
			continue
		}
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return s, err
	}
	var out Shape
	if err := json.Unmarshal(merged, &out); err != nil {
		return s, err
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	out.Normalize()
	return out, nil
}
