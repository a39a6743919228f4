// Package frames prepares sampled frame images for a vision model call:
// downscale, re-encode as JPEG, and wrap in base64 data URLs. What the
// model does with them is someone else's business.
package frames

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
)

// jpegQuality balances payload size against legibility of on-screen text
const jpegQuality = 85

// EncodeForVision converts frame image files into data URLs in input
// order. Images whose longest edge exceeds maxDim are downscaled to it;
// smaller ones pass through at native size. Any unreadable frame fails the
// whole batch: a payload with silent holes would skew the analysis
func EncodeForVision(paths []string, maxDim int) ([]string, error) {
	if maxDim <= 0 {
		return nil, fmt.Errorf("max dimension must be positive, got %d", maxDim)
	}

	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		url, err := encodeOne(path, maxDim)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %s: %w", path, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func encodeOne(path string, maxDim int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", err
	}

	img = downscale(img, maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// downscale shrinks the image so its longest edge is maxDim, preserving
// aspect ratio. Lanczos3 keeps fine detail legible after the shrink
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	if w >= h {
		return resize.Resize(uint(maxDim), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxDim), img, resize.Lanczos3)
}
