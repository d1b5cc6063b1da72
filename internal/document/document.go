package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
)

// MaxFileSize bounds accepted inputs
const MaxFileSize = 200 * 1024 * 1024 // 200MB

// Kind is the declared kind of an input document
type Kind string

const (
	KindRaster     Kind = "raster"
	KindScannedPDF Kind = "scanned-pdf"
	KindVectorPDF  Kind = "vector-pdf"
	KindUnknown    Kind = "unknown"
)

// IsPDF reports whether the kind is one of the PDF kinds
func (k Kind) IsPDF() bool {
	return k == KindScannedPDF || k == KindVectorPDF
}

// Valid reports whether the pipeline can process the kind
func (k Kind) Valid() bool {
	return k == KindRaster || k.IsPDF()
}

// Document is the pipeline input. It is never mutated after Open.
type Document struct {
	Path string
	Kind Kind
}

// BaseName returns the file name without extension
func (d Document) BaseName() string {
	return strings.TrimSuffix(filepath.Base(d.Path), filepath.Ext(d.Path))
}

// Ext returns the lower-cased extension including the dot
func (d Document) Ext() string {
	return strings.ToLower(filepath.Ext(d.Path))
}

// Prober decides whether a PDF carries vector notation or scanned pages
type Prober interface {
	IsVector(path string) (bool, error)
}

// Open validates the input file and determines its kind. PDFs are classified
// by the prober; a probe failure falls back to scanned-pdf.
func Open(path string, prober Prober) (Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, fmt.Errorf("resolve input path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Document{}, &apperrors.ConfigError{Which: "input", Path: abs, Reason: "file not found"}
	}
	if info.IsDir() {
		return Document{}, &apperrors.ConfigError{Which: "input", Path: abs, Reason: "is a directory"}
	}
	if info.Size() > MaxFileSize {
		return Document{}, &apperrors.ConfigError{Which: "input", Path: abs, Reason: "exceeds 200MB"}
	}

	kind, err := Detect(abs)
	if err != nil {
		return Document{}, err
	}

	if kind == KindScannedPDF && prober != nil {
		vector, err := prober.IsVector(abs)
		switch {
		case err != nil:
			log.Warn("document.probe_failed", "path", abs, "error", err)
		case vector:
			kind = KindVectorPDF
		}
	}

	return Document{Path: abs, Kind: kind}, nil
}

// Detect infers the kind from magic bytes, then the extension. PDFs are
// reported as scanned until probed.
func Detect(path string) (Kind, error) {
	kind, err := detectMagic(path)
	if err != nil {
		return KindUnknown, err
	}
	if kind == KindUnknown {
		kind = KindFromExtension(path)
	}
	if kind == KindUnknown {
		return KindUnknown, apperrors.NewStageError(apperrors.StageRecognition, apperrors.KindUnsupportedInputKind,
			fmt.Sprintf("%s: expected .pdf, .png, .jpg or .tiff", filepath.Base(path)), nil)
	}
	return kind, nil
}

// KindFromExtension maps a file extension to a kind
func KindFromExtension(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindScannedPDF
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return KindRaster
	}
	return KindUnknown
}

// detectMagic checks file magic bytes to determine the kind
func detectMagic(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	header := make([]byte, 8)
	n, _ := f.Read(header)
	header = header[:n]

	switch {
	case n >= 5 && string(header[:5]) == "%PDF-":
		return KindScannedPDF, nil
	case n >= 8 && string(header[1:4]) == "PNG" && header[0] == 0x89:
		return KindRaster, nil
	case n >= 3 && header[0] == 0xFF && header[1] == 0xD8 && header[2] == 0xFF:
		return KindRaster, nil
	case n >= 4 && (string(header[:4]) == "II*\x00" || string(header[:4]) == "MM\x00*"):
		return KindRaster, nil
	}
	return KindUnknown, nil
}
