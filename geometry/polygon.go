package geometry

import (
	"image"
	"image/color"
)

// PolygonMask rasterizes a closed polygon into a binary mask of the given
// size. points are (x, y) vertex pairs in pixel coordinates; the polygon is
// implicitly closed between the last and first vertex. A pixel belongs to the
// mask when its center falls inside the polygon under the even-odd rule.
//
// Inside pixels are white (0xff), outside pixels black. The mask is suitable
// for resizing with the same filters used for images.
func PolygonMask(points [][2]float64, width, height int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	if len(points) < 3 {
		return mask
	}
	for y := 0; y < height; y++ {
		py := float64(y) + 0.5
		for x := 0; x < width; x++ {
			px := float64(x) + 0.5
			if insideEvenOdd(points, px, py) {
				mask.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}
	return mask
}

// insideEvenOdd counts crossings of a horizontal ray from (px, py) to +inf
// against every polygon edge.
func insideEvenOdd(points [][2]float64, px, py float64) bool {
	inside := false
	n := len(points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := points[i][0], points[i][1]
		xj, yj := points[j][0], points[j][1]
		if (yi > py) != (yj > py) {
			crossX := xi + (py-yi)/(yj-yi)*(xj-xi)
			if px < crossX {
				inside = !inside
			}
		}
	}
	return inside
}
