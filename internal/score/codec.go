package score

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

const partwiseDoctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">`

var zipMagic = []byte("PK\x03\x04")

// Decode parses a partwise MusicXML document. Any failure is reported as
// UnparsableNotation.
func Decode(r io.Reader) (*Score, error) {
	var s Score
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "us-ascii":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	if err := dec.Decode(&s); err != nil {
		return nil, unparsable("decode musicxml", err)
	}
	if len(s.Parts) == 0 {
		return nil, unparsable("document has no parts", nil)
	}
	return &s, nil
}

// Encode writes the score as a partwise MusicXML document
func Encode(w io.Writer, s *Score) error {
	if _, err := io.WriteString(w, xml.Header+partwiseDoctype+"\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode musicxml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Load reads a .musicxml/.xml file or a compressed .mxl container
func Load(path string) (*Score, error) {
	data, err := ExtractXML(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// Save writes the score to path
func Save(path string, s *Score) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ExtractXML returns the MusicXML bytes of a file, unpacking .mxl containers
func ExtractXML(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notation: %w", err)
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return data, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, unparsable("open mxl container", err)
	}

	root := rootFile(zr)
	if root == "" {
		return nil, unparsable("mxl container has no score", nil)
	}
	for _, f := range zr.File {
		if f.Name != root {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, unparsable("open mxl root file", err)
		}
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, unparsable("read mxl root file", err)
		}
		return out, nil
	}
	return nil, unparsable("mxl root file "+root+" missing", nil)
}

type container struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// rootFile reads META-INF/container.xml, falling back to the first .xml
// entry outside META-INF.
func rootFile(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != "META-INF/container.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			break
		}
		var c container
		err = xml.NewDecoder(rc).Decode(&c)
		rc.Close()
		if err == nil && len(c.RootFiles) > 0 {
			return c.RootFiles[0].FullPath
		}
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		if ext := path.Ext(f.Name); ext == ".xml" || ext == ".musicxml" {
			return f.Name
		}
	}
	return ""
}

// Merge appends the measures of each following score to the part at the
// same position in the first score. Extra parts are appended whole.
// Measures are renumbered sequentially.
func Merge(scores ...*Score) (*Score, error) {
	if len(scores) == 0 {
		return nil, unparsable("nothing to merge", nil)
	}
	base := scores[0]
	for _, s := range scores[1:] {
		for i, p := range s.Parts {
			if i < len(base.Parts) {
				base.Parts[i].Measures = append(base.Parts[i].Measures, p.Measures...)
				continue
			}
			id := fmt.Sprintf("P%d", len(base.Parts)+1)
			sp := ScorePart{ID: id, Name: id}
			if orig := s.ScorePart(p.ID); orig != nil {
				sp = *orig
				sp.ID = id
			}
			p.ID = id
			base.Parts = append(base.Parts, p)
			base.PartList.ScoreParts = append(base.PartList.ScoreParts, sp)
		}
	}
	if len(scores) > 1 {
		for _, p := range base.Parts {
			for i, m := range p.Measures {
				m.Number = strconv.Itoa(i + 1)
			}
		}
	}
	return base, nil
}

type directionXML struct {
	Sound *soundXML `xml:"sound"`
}

type soundXML struct {
	Tempo float64 `xml:"tempo,attr"`
}

type durationXML struct {
	Duration int    `xml:"duration"`
	Voice    string `xml:"voice,omitempty"`
}

// UnmarshalXML keeps the relative order of notes, backups and forwards
func (m *Measure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "number":
			m.Number = a.Value
		case "implicit":
			m.Implicit = a.Value == "yes"
		}
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			if err := m.decodeChild(d, t); err != nil {
				return err
			}
		}
	}
}

func (m *Measure) decodeChild(d *xml.Decoder, t xml.StartElement) error {
	switch t.Name.Local {
	case "note":
		var n Note
		if err := d.DecodeElement(&n, &t); err != nil {
			return err
		}
		m.Events = append(m.Events, Event{Kind: EventNote, Note: &n})
	case "backup":
		var b durationXML
		if err := d.DecodeElement(&b, &t); err != nil {
			return err
		}
		m.Events = append(m.Events, Event{Kind: EventBackup, Duration: b.Duration})
	case "forward":
		var f durationXML
		if err := d.DecodeElement(&f, &t); err != nil {
			return err
		}
		m.Events = append(m.Events, Event{Kind: EventForward, Duration: f.Duration, Voice: strings.TrimSpace(f.Voice)})
	case "attributes":
		var a Attributes
		if err := d.DecodeElement(&a, &t); err != nil {
			return err
		}
		if m.Attributes == nil {
			m.Attributes = &a
		} else {
			mergeAttributes(m.Attributes, &a)
		}
	case "direction":
		var dir directionXML
		if err := d.DecodeElement(&dir, &t); err != nil {
			return err
		}
		if dir.Sound != nil && dir.Sound.Tempo > 0 && m.Tempo == 0 {
			m.Tempo = dir.Sound.Tempo
		}
	case "sound":
		var s soundXML
		if err := d.DecodeElement(&s, &t); err != nil {
			return err
		}
		if s.Tempo > 0 && m.Tempo == 0 {
			m.Tempo = s.Tempo
		}
	default:
		return d.Skip()
	}
	return nil
}

func mergeAttributes(dst, src *Attributes) {
	if src.Divisions > 0 {
		dst.Divisions = src.Divisions
	}
	if src.Key != nil {
		dst.Key = src.Key
	}
	if src.Time != nil {
		dst.Time = src.Time
	}
	if src.Staves > 0 {
		dst.Staves = src.Staves
	}
	dst.Clefs = append(dst.Clefs, src.Clefs...)
}

// MarshalXML writes attributes, tempo, then the timed events
func (m *Measure) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "measure"}
	start.Attr = []xml.Attr{{Name: xml.Name{Local: "number"}, Value: m.Number}}
	if m.Implicit {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "implicit"}, Value: "yes"})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}

	if m.Attributes != nil {
		if err := e.EncodeElement(m.Attributes, xml.StartElement{Name: xml.Name{Local: "attributes"}}); err != nil {
			return err
		}
	}
	if m.Tempo > 0 {
		sound := xml.StartElement{
			Name: xml.Name{Local: "sound"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "tempo"}, Value: strconv.FormatFloat(m.Tempo, 'f', -1, 64)}},
		}
		if err := e.EncodeElement(struct{}{}, sound); err != nil {
			return err
		}
	}

	for _, ev := range m.Events {
		var err error
		switch ev.Kind {
		case EventNote:
			err = e.Encode(ev.Note)
		case EventBackup:
			err = e.EncodeElement(struct {
				Duration int `xml:"duration"`
			}{ev.Duration}, xml.StartElement{Name: xml.Name{Local: "backup"}})
		case EventForward:
			err = e.EncodeElement(durationXML{Duration: ev.Duration, Voice: ev.Voice}, xml.StartElement{Name: xml.Name{Local: "forward"}})
		}
		if err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func unparsable(msg string, cause error) error {
	return apperrors.NewStageError(apperrors.StageNormalization, apperrors.KindUnparsableNotation, msg, cause)
}
