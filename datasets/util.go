package datasets

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// loadImage decodes an image file from disk. JPEG and PNG decoders are
// registered; grayscale files decode to a single-channel image and are
// broadcast to three channels during tensor conversion.
func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	return img, nil
}

// imageToCHW resizes img to height x width (bilinear) and converts it to a
// Float32 tensor shaped [3, height, width] with values in [0, 1].
//
// The resize output is always RGBA-like, so grayscale inputs come out with
// three equal channels.
func imageToCHW(img image.Image, height, width int) *tensors.Tensor {
	resized := imaging.Resize(img, width, height, imaging.Linear)
	flat := make([]float32, 3*height*width)
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := resized.NRGBAAt(x, y)
			flat[0*plane+y*width+x] = float32(px.R) / 255
			flat[1*plane+y*width+x] = float32(px.G) / 255
			flat[2*plane+y*width+x] = float32(px.B) / 255
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, 3, height, width)
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
