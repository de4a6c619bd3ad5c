// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package maxvit

import (
	"image"

	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/disintegration/imaging"
)

var (
	// TorchMean is the per-channel (RGB) mean of the "torch" rescale mode, in the [0, 255] range.
	TorchMean = [3]float32{0.485 * 255, 0.456 * 255, 0.406 * 255}

	// TorchStd is the per-channel (RGB) standard deviation of the "torch" rescale mode, in the [0, 255] range.
	TorchStd = [3]float32{0.229 * 255, 0.224 * 255, 0.225 * 255}
)

// Preprocess resizes the image to height x width (bilinear) and normalizes it as the pretrained weights
// expect ("torch" rescale mode): (pixel - TorchMean) / TorchStd.
//
// It returns a float32 tensor shaped [1, height, width, 3]. Use Model.InputSize for the size the model
// was built for.
func Preprocess(img image.Image, height, width int) *tensors.Tensor {
	return PreprocessBatch([]image.Image{img}, height, width)
}

// PreprocessBatch is like Preprocess for a batch of images, shaped [len(images), height, width, 3].
func PreprocessBatch(images []image.Image, height, width int) *tensors.Tensor {
	values := make([]float32, 0, len(images)*height*width*3)
	for _, img := range images {
		values = appendNormalized(values, imaging.Resize(img, width, height, imaging.Linear))
	}
	return tensors.FromFlatDataAndDimensions(values, len(images), height, width, 3)
}

// appendNormalized appends the normalized RGB values of the image, in row-major order.
func appendNormalized(values []float32, img *image.NRGBA) []float32 {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			offset := img.PixOffset(x, y)
			for channel := range 3 {
				v := float32(img.Pix[offset+channel])
				values = append(values, (v-TorchMean[channel])/TorchStd[channel])
			}
		}
	}
	return values
}

// InputSize returns the height and width of the images the model was built for.
func (m *Model) InputSize() (height, width int) {
	return m.Config.InputShape[0], m.Config.InputShape[1]
}
