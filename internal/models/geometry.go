package models

import "math"

// BoundingBox is an axis-aligned page region in pixel coordinates
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns Width*Height
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Union returns the smallest box enclosing both b and other
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		X1: math.Min(b.X1, other.X1),
		Y1: math.Min(b.Y1, other.Y1),
		X2: math.Max(b.X2, other.X2),
		Y2: math.Max(b.Y2, other.Y2),
	}
}

// Contains reports whether other lies entirely inside b
func (b BoundingBox) Contains(other BoundingBox) bool {
	return other.X1 >= b.X1 && other.Y1 >= b.Y1 && other.X2 <= b.X2 && other.Y2 <= b.Y2
}

// Valid reports whether the box has non-negative coordinates and ordered corners
func (b BoundingBox) Valid() bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// HorizontalOverlapRatio returns the x-overlap of two boxes divided by their x-union.
// A zero-width union yields 0.
func (b BoundingBox) HorizontalOverlapRatio(other BoundingBox) float64 {
	overlap := math.Max(0, math.Min(b.X2, other.X2)-math.Max(b.X1, other.X1))
	union := math.Max(b.X2, other.X2) - math.Min(b.X1, other.X1)
	if union == 0 {
		return 0
	}
	return overlap / union
}
