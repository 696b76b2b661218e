package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// pdfText collects the text of every page. Pages without embedded text are
// rendered and passed through tesseract.
func (t *Tesseract) pdfText(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err == nil && strings.TrimSpace(text) != "" {
			pages = append(pages, text)
			continue
		}

		img, err := doc.Image(i)
		if err != nil {
			return "", fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		text, err = t.ocrImage(ctx, img)
		if err != nil {
			return "", fmt.Errorf("reading PDF page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, pageSeparator), nil
}

// heicText decodes a HEIC/HEIF photo, which tesseract cannot read, and OCRs it as PNG
func (t *Tesseract) heicText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, err := heic.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return t.ocrImage(ctx, img)
}

// ocrImage writes img to a temporary PNG and runs tesseract on it
func (t *Tesseract) ocrImage(ctx context.Context, img image.Image) (string, error) {
	tmp, err := os.CreateTemp(t.cfg.TempDir, "invoice-page-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	return t.ocr(ctx, tmp.Name())
}

// fileIsHEIC sniffs the first bytes of the file at path
func fileIsHEIC(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, nil
	}
	return isHEICFormat(header), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
