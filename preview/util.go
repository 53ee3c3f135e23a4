package preview

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// hasUsefulAlpha reports whether any pixel is not fully opaque, which means the
// background is already cut out.
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// alphaBBox returns the bounding box of pixels with alpha > threshold*255, or an
// empty rectangle when there are none.
func alphaBBox(img *image.NRGBA, threshold float64) image.Rectangle {
	b := img.Bounds()
	th := uint8(threshold * 255)

	minX, minY := b.Dx(), b.Dy()
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < b.Dy(); y++ {
		row := y * img.Stride
		for x := 0; x < b.Dx(); x++ {
			if img.Pix[row+x*4+3] <= th {
				continue
			}
			found = true
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// resizeWithinMax scales img so the longest side is at most maxSize.
func resizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if longest <= maxSize {
		return img
	}

	newW := max(1, w*maxSize/longest)
	newH := max(1, h*maxSize/longest)

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return toNRGBA(resized)
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
