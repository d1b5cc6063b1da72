package document

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// maxProbePages bounds how many pages are inspected
const maxProbePages = 8

// PDFProber inspects page resources: pages carrying fonts are typeset
// (vector) notation, pages carrying only image XObjects are scans.
type PDFProber struct{}

// IsVector implements Prober. Malformed files can make the parser panic;
// that is reported as a probe error.
func (PDFProber) IsVector(path string) (vector bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			vector, err = false, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return false, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := r.NumPage()
	if pages == 0 {
		return false, fmt.Errorf("pdf has no pages")
	}
	if pages > maxProbePages {
		pages = maxProbePages
	}

	var fonts, images int
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		fonts += len(p.Fonts())
		images += countImages(p.Resources().Key("XObject"))
	}

	return looksVector(fonts, images), nil
}

// looksVector classifies from resource counts over the inspected pages. Any
// font means typeset notation; no fonts and no images is pure path drawing,
// still vector.
func looksVector(fonts, images int) bool {
	if fonts > 0 {
		return true
	}
	return images == 0
}

func countImages(xobjects pdf.Value) int {
	if xobjects.IsNull() {
		return 0
	}
	n := 0
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			n++
		}
	}
	return n
}
