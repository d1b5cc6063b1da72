package score

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Score is an in-memory partwise MusicXML document
type Score struct {
	XMLName       xml.Name `xml:"score-partwise"`
	Version       string   `xml:"version,attr,omitempty"`
	Work          *Work    `xml:"work"`
	MovementTitle string   `xml:"movement-title,omitempty"`
	PartList      PartList `xml:"part-list"`
	Parts         []*Part  `xml:"part"`
}

type Work struct {
	Title string `xml:"work-title,omitempty"`
}

type PartList struct {
	ScoreParts []ScorePart `xml:"score-part"`
}

type ScorePart struct {
	ID              string           `xml:"id,attr"`
	Name            string           `xml:"part-name"`
	MIDIInstruments []MIDIInstrument `xml:"midi-instrument"`
}

type MIDIInstrument struct {
	ID        string `xml:"id,attr,omitempty"`
	Channel   int    `xml:"midi-channel,omitempty"`
	Program   int    `xml:"midi-program,omitempty"`
	Unpitched int    `xml:"midi-unpitched,omitempty"`
}

type Part struct {
	ID       string     `xml:"id,attr"`
	Measures []*Measure `xml:"measure"`
}

// Measure keeps its note, backup and forward children in document order.
// Repeat barlines and directions other than tempo are not carried.
type Measure struct {
	Number     string
	Implicit   bool
	Attributes *Attributes
	Tempo      float64 // quarter notes per minute from <sound tempo>, 0 if absent
	Events     []Event
}

type Attributes struct {
	Divisions int    `xml:"divisions,omitempty"`
	Key       *Key   `xml:"key"`
	Time      *Time  `xml:"time"`
	Staves    int    `xml:"staves,omitempty"`
	Clefs     []Clef `xml:"clef"`
}

type Key struct {
	Fifths int    `xml:"fifths"`
	Mode   string `xml:"mode,omitempty"`
}

type Time struct {
	Beats    string `xml:"beats"`
	BeatType string `xml:"beat-type"`
}

// Fraction returns the time signature as numerator and denominator.
// Composite beats like "3+2" are summed; unreadable values mean 4/4.
func (t *Time) Fraction() (int, int) {
	if t == nil {
		return 4, 4
	}
	num := 0
	for _, b := range strings.Split(t.Beats, "+") {
		n, err := strconv.Atoi(strings.TrimSpace(b))
		if err != nil || n <= 0 {
			return 4, 4
		}
		num += n
	}
	den, err := strconv.Atoi(strings.TrimSpace(t.BeatType))
	if err != nil || den <= 0 {
		return 4, 4
	}
	return num, den
}

type Clef struct {
	Number int    `xml:"number,attr,omitempty"`
	Sign   string `xml:"sign"`
	Line   int    `xml:"line,omitempty"`
}

// EventKind tells which of Event's fields is meaningful
type EventKind int

const (
	EventNote EventKind = iota
	EventBackup
	EventForward
)

// Event is one timed child of a measure
type Event struct {
	Kind     EventKind
	Note     *Note
	Duration int    // backup and forward only
	Voice    string // forward only
}

type Empty struct{}

// Note mirrors the MusicXML <note> children TuneReader reads and writes, in
// schema order.
type Note struct {
	XMLName   xml.Name   `xml:"note"`
	Grace     *Empty     `xml:"grace"`
	Chord     *Empty     `xml:"chord"`
	Pitch     *Pitch     `xml:"pitch"`
	Unpitched *Unpitched `xml:"unpitched"`
	Rest      *Rest      `xml:"rest"`
	Duration  int        `xml:"duration,omitempty"`
	Ties      []Tie      `xml:"tie"`
	Voice     string     `xml:"voice,omitempty"`
	Type      string     `xml:"type,omitempty"`
	Dots      []Empty    `xml:"dot"`
	Staff     int        `xml:"staff,omitempty"`
}

type Pitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter,omitempty"`
	Octave int     `xml:"octave"`
}

type Unpitched struct {
	DisplayStep   string `xml:"display-step"`
	DisplayOctave int    `xml:"display-octave"`
}

type Rest struct {
	Measure string `xml:"measure,attr,omitempty"`
}

type Tie struct {
	Type string `xml:"type,attr"`
}

// IsRest reports whether the note is a rest
func (n *Note) IsRest() bool { return n.Rest != nil }

// IsChord reports whether the note sounds with the previous note
func (n *Note) IsChord() bool { return n.Chord != nil }

// IsGrace reports whether the note is a grace note (no duration)
func (n *Note) IsGrace() bool { return n.Grace != nil }

// Playable reports whether the note produces sound: not a rest or grace
// note, and spelled with a step that maps to a key.
func (n *Note) Playable() bool {
	if n.Rest != nil || n.Grace != nil {
		return false
	}
	_, ok := n.Key()
	return ok
}

// VoiceOr returns the voice, or def when the note has none
func (n *Note) VoiceOr(def string) string {
	if v := strings.TrimSpace(n.Voice); v != "" {
		return v
	}
	return def
}

// HasTie reports whether the note carries a tie of the given type
func (n *Note) HasTie(kind string) bool {
	for _, t := range n.Ties {
		if t.Type == kind {
			return true
		}
	}
	return false
}

var stepSemitones = map[string]int{"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11}

// Key returns the MIDI key number, false for rests
func (n *Note) Key() (int, bool) {
	var step string
	var octave int
	alter := 0.0
	switch {
	case n.Pitch != nil:
		step, octave, alter = n.Pitch.Step, n.Pitch.Octave, n.Pitch.Alter
	case n.Unpitched != nil:
		step, octave = n.Unpitched.DisplayStep, n.Unpitched.DisplayOctave
	default:
		return 0, false
	}
	semi, ok := stepSemitones[strings.ToUpper(strings.TrimSpace(step))]
	if !ok {
		return 0, false
	}
	key := (octave+1)*12 + semi
	if alter >= 0 {
		key += int(alter + 0.5)
	} else {
		key -= int(-alter + 0.5)
	}
	return key, true
}

// Clone returns a deep copy of the note
func (n *Note) Clone() *Note {
	c := *n
	if n.Pitch != nil {
		p := *n.Pitch
		c.Pitch = &p
	}
	if n.Unpitched != nil {
		u := *n.Unpitched
		c.Unpitched = &u
	}
	if n.Rest != nil {
		r := *n.Rest
		c.Rest = &r
	}
	c.Ties = append([]Tie(nil), n.Ties...)
	c.Dots = append([]Empty(nil), n.Dots...)
	return &c
}

// ScorePart returns the part-list entry for a part ID
func (s *Score) ScorePart(id string) *ScorePart {
	for i := range s.PartList.ScoreParts {
		if s.PartList.ScoreParts[i].ID == id {
			return &s.PartList.ScoreParts[i]
		}
	}
	return nil
}

// Title returns the work title or movement title
func (s *Score) Title() string {
	if s.Work != nil && s.Work.Title != "" {
		return s.Work.Title
	}
	return s.MovementTitle
}

// PlayableCount counts sounding notes across all parts
func (s *Score) PlayableCount() int {
	n := 0
	for _, p := range s.Parts {
		n += p.PlayableCount()
	}
	return n
}

// PlayableCount counts sounding notes in the part
func (p *Part) PlayableCount() int {
	n := 0
	for _, m := range p.Measures {
		for _, e := range m.Events {
			if e.Kind == EventNote && e.Note.Playable() {
				n++
			}
		}
	}
	return n
}
