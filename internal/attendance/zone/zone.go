// Package zone classifies detection positions against camera-configured
// entry and exit polygons.
package zone

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	Entry Kind = "ENTRY"
	Exit  Kind = "EXIT"
	None  Kind = "NONE"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Entry, Exit:
		return k, nil
	}
	return "", fmt.Errorf("unknown zone type %q", s)
}

var ErrDegenerate = errors.New("polygon needs at least 3 points")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

type Polygon struct {
	Kind   Kind    `json:"type"`
	Points []Point `json:"points"`
}

func (p Polygon) Validate() error {
	if p.Kind != Entry && p.Kind != Exit {
		return fmt.Errorf("unknown zone type %q", p.Kind)
	}
	if len(p.Points) < 3 {
		return ErrDegenerate
	}
	return nil
}

// Contains is the even-odd ray casting test. Points exactly on an edge may
// land on either side.
func Contains(pt Point, poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := range poly {
		pi, pj := poly[i], poly[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Classify tests every ENTRY polygon before any EXIT polygon.
func Classify(pt Point, polygons []Polygon) Kind {
	for _, k := range []Kind{Entry, Exit} {
		for _, p := range polygons {
			if p.Kind == k && Contains(pt, p.Points) {
				return k
			}
		}
	}
	return None
}
