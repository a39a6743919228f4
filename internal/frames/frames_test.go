package frames

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	if strings.HasSuffix(name, ".png") {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func decodeDataURL(t *testing.T, url string) image.Image {
	t.Helper()

	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("data URL missing prefix: %.40s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("payload is not a valid JPEG: %v", err)
	}
	return img
}

func TestEncodeForVisionPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeTestImage(t, dir, "frame_0_0s.jpg", 64, 48),
		writeTestImage(t, dir, "frame_1_3.03s.jpg", 64, 48),
		writeTestImage(t, dir, "frame_2_6.06s.png", 64, 48),
	}

	urls, err := EncodeForVision(paths, 768)
	if err != nil {
		t.Fatalf("EncodeForVision failed: %v", err)
	}
	if len(urls) != 3 {
		t.Fatalf("got %d urls, want 3", len(urls))
	}
	for _, url := range urls {
		decodeDataURL(t, url)
	}
}

func TestEncodeForVisionDownscalesLongestEdge(t *testing.T) {
	dir := t.TempDir()

	wide := writeTestImage(t, dir, "wide.jpg", 1920, 1080)
	tall := writeTestImage(t, dir, "tall.png", 600, 1200)

	urls, err := EncodeForVision([]string{wide, tall}, 768)
	if err != nil {
		t.Fatalf("EncodeForVision failed: %v", err)
	}

	wideImg := decodeDataURL(t, urls[0])
	if got := wideImg.Bounds().Dx(); got != 768 {
		t.Errorf("wide image width %d, want 768", got)
	}

	tallImg := decodeDataURL(t, urls[1])
	if got := tallImg.Bounds().Dy(); got != 768 {
		t.Errorf("tall image height %d, want 768", got)
	}
}

func TestEncodeForVisionKeepsSmallImages(t *testing.T) {
	dir := t.TempDir()
	small := writeTestImage(t, dir, "small.jpg", 320, 240)

	urls, err := EncodeForVision([]string{small}, 768)
	if err != nil {
		t.Fatalf("EncodeForVision failed: %v", err)
	}

	img := decodeDataURL(t, urls[0])
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("small image resized to %dx%d, want 320x240", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestEncodeForVisionFailsOnUnreadableFrame(t *testing.T) {
	dir := t.TempDir()
	good := writeTestImage(t, dir, "good.jpg", 64, 48)
	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := EncodeForVision([]string{good, bad}, 768); err == nil {
		t.Fatal("expected error for an unreadable frame")
	}
}

func TestEncodeForVisionRejectsNonPositiveDim(t *testing.T) {
	if _, err := EncodeForVision(nil, 0); err == nil {
		t.Error("expected error for zero max dimension")
	}
}
