package score

import (
	"fmt"
	"sort"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

// Options tunes structural cleanup
type Options struct {
	// TempoBPM replaces every tempo mark with one uniform tempo; 0 keeps
	// the score's own marks.
	TempoBPM float64

	// Hand and Monophonic reduce what is sounded. They leave the
	// normalized notation alone and apply when MIDI is derived.
	Hand       Hand
	Monophonic Voicing
}

// Stats reports what cleanup changed
type Stats struct {
	PartsIn             int      `json:"parts_in"`
	PartsOut            int      `json:"parts_out"`
	DroppedParts        []string `json:"dropped_parts,omitempty"`
	DroppedVoices       int      `json:"dropped_voices"`
	Measures            int      `json:"measures"`
	PaddedMeasures      int      `json:"padded_measures"`
	TruncatedMeasures   int      `json:"truncated_measures"`
	PlaceholderMeasures int      `json:"placeholder_measures"`
	PlayableIn          int      `json:"playable_in"`
	PlayableOut         int      `json:"playable_out"`
	Sounding            int      `json:"sounding"` // notes written to MIDI
}

// group is a note with its chord members, or a single rest, placed on the
// measure's time axis
type group struct {
	onset int
	dur   int
	staff int
	notes []*Note
}

// layout splits a measure into per-voice groups. Backups only move the
// cursor and forwards become gaps, so rebuilding from groups drops both.
func layout(m *Measure) (map[string][]*group, []string, int) {
	groups := make(map[string][]*group)
	var order []string
	var last *group
	cursor, extent := 0, 0

	for _, ev := range m.Events {
		switch ev.Kind {
		case EventBackup:
			cursor -= ev.Duration
			if cursor < 0 {
				cursor = 0
			}
			last = nil
		case EventForward:
			cursor += ev.Duration
			if cursor > extent {
				extent = cursor
			}
			last = nil
		case EventNote:
			n := ev.Note
			if n.IsChord() && last != nil {
				last.notes = append(last.notes, n)
				continue
			}
			dur := n.Duration
			if n.IsGrace() || dur < 0 {
				dur = 0
			}
			v := n.VoiceOr("1")
			g := &group{onset: cursor, dur: dur, staff: n.Staff, notes: []*Note{n}}
			if _, seen := groups[v]; !seen {
				order = append(order, v)
			}
			groups[v] = append(groups[v], g)
			last = g
			cursor += dur
			if cursor > extent {
				extent = cursor
			}
		}
	}

	for _, v := range order {
		gs := groups[v]
		sort.SliceStable(gs, func(i, j int) bool { return gs[i].onset < gs[j].onset })
	}
	return groups, order, extent
}

func (g *group) playable() int {
	n := 0
	for _, note := range g.notes {
		if note.Playable() {
			n++
		}
	}
	return n
}

func (g *group) setDuration(d int) {
	g.dur = d
	for _, n := range g.notes {
		if !n.IsGrace() {
			n.Duration = d
		}
	}
}

// measureDuration is the declared length in divisions
func measureDuration(divisions int, t *Time) int {
	num, den := t.Fraction()
	return divisions * 4 * num / den
}

// Normalize drops silent voices and parts, then repairs every measure so
// each voice fills exactly the declared duration. Measures are never
// removed. It fails with EmptyScore when nothing playable is left.
func Normalize(s *Score, opts Options) (Stats, error) {
	st := Stats{PartsIn: len(s.Parts), PlayableIn: s.PlayableCount()}

	var kept []*Part
	for _, p := range s.Parts {
		if normalizePart(p, &st) {
			kept = append(kept, p)
			continue
		}
		st.DroppedParts = append(st.DroppedParts, p.ID)
	}
	s.Parts = kept
	prunePartList(s)

	if opts.TempoBPM > 0 {
		for _, p := range s.Parts {
			for _, m := range p.Measures {
				m.Tempo = 0
			}
			if len(p.Measures) > 0 {
				p.Measures[0].Tempo = opts.TempoBPM
			}
		}
	}

	st.PartsOut = len(s.Parts)
	st.PlayableOut = s.PlayableCount()
	for _, p := range s.Parts {
		st.Measures += len(p.Measures)
	}

	if st.PlayableOut == 0 {
		return st, apperrors.NewStageError(apperrors.StageNormalization, apperrors.KindEmptyScore,
			fmt.Sprintf("%d part(s) examined, none playable", st.PartsIn), nil)
	}
	return st, nil
}

func normalizePart(p *Part, st *Stats) bool {
	layouts := make([]map[string][]*group, len(p.Measures))
	extents := make([]int, len(p.Measures))
	playable := make(map[string]int)
	var order []string

	for i, m := range p.Measures {
		groups, voices, extent := layout(m)
		layouts[i], extents[i] = groups, extent
		for _, v := range voices {
			if _, seen := playable[v]; !seen {
				order = append(order, v)
				playable[v] = 0
			}
			for _, g := range groups[v] {
				playable[v] += g.playable()
			}
		}
	}

	var voices []string
	for _, v := range order {
		if playable[v] > 0 {
			voices = append(voices, v)
		} else {
			st.DroppedVoices++
		}
	}
	if len(voices) == 0 {
		return false
	}

	primary := voices[0]
	primaryStaff := 0
	for _, groups := range layouts {
		if gs := groups[primary]; len(gs) > 0 {
			primaryStaff = gs[0].staff
			break
		}
	}

	divisions := 1
	var sig *Time
	for i, m := range p.Measures {
		if a := m.Attributes; a != nil {
			if a.Divisions > 0 {
				divisions = a.Divisions
			}
			if a.Time != nil {
				sig = a.Time
			}
		}
		expected := measureDuration(divisions, sig)
		if m.Implicit && extents[i] > 0 {
			expected = longestVoice(layouts[i], voices)
		}
		if expected <= 0 {
			expected = extents[i]
		}
		rebuildMeasure(m, layouts[i], voices, expected, primary, primaryStaff, st)
	}
	return true
}

func longestVoice(groups map[string][]*group, voices []string) int {
	longest := 0
	for _, v := range voices {
		gs := groups[v]
		if len(gs) == 0 {
			continue
		}
		if end := gs[len(gs)-1].onset + gs[len(gs)-1].dur; end > longest {
			longest = end
		}
	}
	return longest
}

func rebuildMeasure(m *Measure, groups map[string][]*group, voices []string, expected int, primary string, primaryStaff int, st *Stats) {
	var present []string
	for _, v := range voices {
		if len(groups[v]) > 0 {
			present = append(present, v)
		}
	}

	if len(present) == 0 {
		rest := &Note{Rest: &Rest{Measure: "yes"}, Duration: expected, Voice: primary, Staff: primaryStaff}
		m.Events = []Event{{Kind: EventNote, Note: rest}}
		st.PlaceholderMeasures++
		return
	}

	var events []Event
	padded, truncated := false, false
	for i, v := range present {
		if i > 0 {
			events = append(events, Event{Kind: EventBackup, Duration: expected})
		}
		pos := 0
		staff := groups[v][0].staff
		for _, g := range groups[v] {
			start := g.onset
			if start < pos {
				if g.dur > 0 {
					remaining := g.dur - (pos - start)
					if remaining <= 0 {
						truncated = true
						continue
					}
					g.setDuration(remaining)
				}
				start = pos
			}
			if start >= expected {
				truncated = true
				continue
			}
			if start > pos {
				events = append(events, restEvent(start-pos, v, staff))
			}
			if start+g.dur > expected {
				g.setDuration(expected - start)
				truncated = true
			}
			for _, n := range g.notes {
				events = append(events, Event{Kind: EventNote, Note: n})
			}
			pos = start + g.dur
			staff = g.staff
		}
		if pos < expected {
			events = append(events, restEvent(expected-pos, v, staff))
			padded = true
		}
	}

	m.Events = events
	if padded {
		st.PaddedMeasures++
	}
	if truncated {
		st.TruncatedMeasures++
	}
}

func restEvent(duration int, voice string, staff int) Event {
	return Event{Kind: EventNote, Note: &Note{Rest: &Rest{}, Duration: duration, Voice: voice, Staff: staff}}
}

func prunePartList(s *Score) {
	keep := make(map[string]bool, len(s.Parts))
	for _, p := range s.Parts {
		keep[p.ID] = true
	}
	var sps []ScorePart
	for _, sp := range s.PartList.ScoreParts {
		if keep[sp.ID] {
			sps = append(sps, sp)
		}
	}
	s.PartList.ScoreParts = sps
}
