package geometry

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// RigidTransform is an affine image transform with zero shear: a rotation
// about the image center and a uniform scale about the same center, followed
// by a translation. The output canvas keeps the input's size; pixels whose
// preimage falls outside the input are left black.
type RigidTransform struct {
	// Angle in degrees, in [-180, 180].
	Angle float64

	// Translate is the horizontal/vertical shift in pixels, applied after
	// the centered rotation and scale.
	Translate image.Point

	// Scale is the uniform scale factor, > 0.
	Scale float64
}

// Apply resamples img through the forward transform with bilinear
// interpolation.
func (t RigidTransform) Apply(img image.Image) image.Image {
	return resample(img, t.matrix(img.Bounds()))
}

// Invert undoes a previous Apply with the same parameters, up to
// interpolation error. The decomposition order matters: the translation was
// applied after the centered rotation and scale, so it must be undone first.
// It is two resampling passes:
//
//  1. translate by -Translate, with no rotation or scaling;
//  2. rotate by -Angle and scale by 1/Scale, with no translation.
//
// Negating all parameters in a single pass does not reconstruct the original
// image, because affine composition is non-commutative. Tested explicitly in
// affine_test.go.
func (t RigidTransform) Invert(img image.Image) image.Image {
	img = RigidTransform{
		Translate: image.Pt(-t.Translate.X, -t.Translate.Y),
		Scale:     1,
	}.Apply(img)
	return RigidTransform{
		Angle: -t.Angle,
		Scale: 1 / t.Scale,
	}.Apply(img)
}

// matrix builds the source-to-destination affine map for the given canvas:
// rotate and scale about the canvas center, then translate. A positive angle
// rotates counter-clockwise in standard image coordinates (y pointing down).
func (t RigidTransform) matrix(bounds image.Rectangle) f64.Aff3 {
	rad := t.Angle * math.Pi / 180
	cos := math.Cos(rad) * t.Scale
	sin := math.Sin(rad) * t.Scale
	cx := float64(bounds.Dx()) / 2
	cy := float64(bounds.Dy()) / 2
	tx := float64(t.Translate.X)
	ty := float64(t.Translate.Y)
	// T(tx,ty) . T(cx,cy) . R(angle)S(scale) . T(-cx,-cy)
	return f64.Aff3{
		cos, sin, cx - cos*cx - sin*cy + tx,
		-sin, cos, cy + sin*cx - cos*cy + ty,
	}
}

func resample(img image.Image, m f64.Aff3) image.Image {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.BiLinear.Transform(dst, m, img, bounds, xdraw.Src, nil)
	return dst
}
