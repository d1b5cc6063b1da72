package recognition

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// collectNotation finds the OMR engine's exports below dir in natural page
// order. Compressed .mxl files win over plain .xml ones.
func collectNotation(dir string) ([]string, error) {
	var mxl, plain []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".mxl":
			mxl = append(mxl, p)
		case ".xml", ".musicxml":
			plain = append(plain, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	files := mxl
	if len(files) == 0 {
		files = plain
	}
	sortNatural(files)
	return files, nil
}

// writeRawNotation stores the recognized pages as the raw-notation artifact.
// A single page is unpacked verbatim; several pages are merged part by part.
func writeRawNotation(ws *workspace.Workspace, files []string) (workspace.Artifact, error) {
	target, err := ws.Allocate(workspace.RawNotation)
	if err != nil {
		return workspace.Artifact{}, err
	}

	if len(files) == 1 {
		data, err := score.ExtractXML(files[0])
		if err != nil {
			return workspace.Artifact{}, unusable(files[0], err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return workspace.Artifact{}, err
		}
		return ws.Produce(workspace.RawNotation, apperrors.StageRecognition)
	}

	var pages []*score.Score
	var lastErr error
	for _, f := range files {
		s, err := score.Load(f)
		if err != nil {
			log.Warn("recognition.page_skipped", "path", f, "error", err)
			lastErr = err
			continue
		}
		pages = append(pages, s)
	}
	if len(pages) == 0 {
		return workspace.Artifact{}, unusable(filepath.Dir(files[0]), lastErr)
	}
	merged, err := score.Merge(pages...)
	if err != nil {
		return workspace.Artifact{}, err
	}
	if err := score.Save(target, merged); err != nil {
		return workspace.Artifact{}, err
	}
	return ws.Produce(workspace.RawNotation, apperrors.StageRecognition)
}

// unusable reports recognized output that exists but cannot be read as
// notation. It counts as an empty result of the recognition attempt.
func unusable(path string, err error) error {
	return &apperrors.ArtifactError{
		Kind:   apperrors.KindEmptyArtifact,
		Name:   workspace.RawNotation,
		Path:   path,
		Reason: err.Error(),
	}
}

// sortNatural orders names so that "page-2" sorts before "page-10"
func sortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
}

func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		if unicode.IsDigit(ra[i]) && unicode.IsDigit(rb[j]) {
			si := i
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			sj := j
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na := strings.TrimLeft(string(ra[si:i]), "0")
			nb := strings.TrimLeft(string(rb[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ra[i] != rb[j] {
			return ra[i] < rb[j]
		}
		i++
		j++
	}
	return len(ra)-i < len(rb)-j
}
