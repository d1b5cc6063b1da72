package score

import (
	"fmt"
	"math"
	"sort"
)

// TicksPerQuarter is the MIDI time resolution
const TicksPerQuarter = 480

// DefaultTempo applies when neither the score nor the caller sets one
const DefaultTempo = 120.0

// TimedNote is a sounding note on the absolute tick axis
type TimedNote struct {
	Part      int
	Key       int // sounding key, after transposition
	Written   int // key as notated
	Start     int
	Length    int
	Unpitched bool
}

// TempoChange sets the tempo from Tick onwards
type TempoChange struct {
	Tick int
	BPM  float64
}

// Timeline is the playback view of a score
type Timeline struct {
	Notes    []TimedNote
	Tempos   []TempoChange
	MeterNum int
	MeterDen int
	End      int
}

// BuildTimeline places every playable note on the tick axis. Tied notes are
// merged into one sounding note; grace notes are not sounded.
func BuildTimeline(s *Score, transpose int) Timeline {
	tl := Timeline{MeterNum: 4, MeterDen: 4}
	tempoAt := make(map[int]float64)
	meterSet := false

	for pi, p := range s.Parts {
		divisions := 1
		var sig *Time
		measureStart := 0
		open := make(map[int]int)

		for _, m := range p.Measures {
			if a := m.Attributes; a != nil {
				if a.Divisions > 0 {
					divisions = a.Divisions
				}
				if a.Time != nil {
					sig = a.Time
					if !meterSet {
						tl.MeterNum, tl.MeterDen = sig.Fraction()
						meterSet = true
					}
				}
			}
			if m.Tempo > 0 {
				if _, ok := tempoAt[measureStart]; !ok {
					tempoAt[measureStart] = m.Tempo
				}
			}

			ticks := func(d int) int { return d * TicksPerQuarter / divisions }
			cursor, extent, lastOnset := 0, 0, 0

			for _, ev := range m.Events {
				switch ev.Kind {
				case EventBackup:
					cursor = max(cursor-ev.Duration, 0)
					continue
				case EventForward:
					cursor += ev.Duration
					extent = max(extent, cursor)
					continue
				}

				n := ev.Note
				onset := cursor
				if n.IsChord() {
					onset = lastOnset
				} else if !n.IsGrace() {
					lastOnset = cursor
					cursor += n.Duration
					extent = max(extent, cursor)
				}
				if !n.Playable() {
					continue
				}

				key, ok := n.Key()
				if !ok {
					continue
				}
				written := key
				unpitched := n.Unpitched != nil
				if !unpitched {
					key += transpose
				}
				if key < 0 || key > 127 {
					continue
				}

				start := measureStart + ticks(onset)
				length := ticks(n.Duration)
				if idx, ok := open[key]; ok && n.HasTie("stop") && tl.Notes[idx].Start+tl.Notes[idx].Length == start {
					tl.Notes[idx].Length += length
					if !n.HasTie("start") {
						delete(open, key)
					}
					continue
				}
				if length <= 0 {
					continue
				}
				tl.Notes = append(tl.Notes, TimedNote{Part: pi, Key: key, Written: written, Start: start, Length: length, Unpitched: unpitched})
				if n.HasTie("start") {
					open[key] = len(tl.Notes) - 1
				} else {
					delete(open, key)
				}
			}

			if extent == 0 {
				extent = measureDuration(divisions, sig)
			}
			measureStart += ticks(extent)
		}
		tl.End = max(tl.End, measureStart)
	}

	for tick, bpm := range tempoAt {
		tl.Tempos = append(tl.Tempos, TempoChange{Tick: tick, BPM: bpm})
	}
	sort.Slice(tl.Tempos, func(i, j int) bool { return tl.Tempos[i].Tick < tl.Tempos[j].Tick })
	sort.SliceStable(tl.Notes, func(i, j int) bool {
		if tl.Notes[i].Start != tl.Notes[j].Start {
			return tl.Notes[i].Start < tl.Notes[j].Start
		}
		return tl.Notes[i].Part < tl.Notes[j].Part
	})
	return tl
}

// Seconds converts the timeline end to wall-clock duration
func (tl Timeline) Seconds(defaultTempo float64) float64 {
	tempos := tl.Tempos
	if len(tempos) == 0 || tempos[0].Tick > 0 {
		tempos = append([]TempoChange{{Tick: 0, BPM: defaultTempo}}, tempos...)
	}
	total := 0.0
	for i, tc := range tempos {
		if tc.Tick >= tl.End {
			break
		}
		end := tl.End
		if i+1 < len(tempos) && tempos[i+1].Tick < end {
			end = tempos[i+1].Tick
		}
		total += float64(end-tc.Tick) / TicksPerQuarter * 60 / tc.BPM
	}
	return total
}

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchName renders a MIDI key as scientific pitch notation ("C4" = 60)
func PitchName(key int) string {
	if key < 0 {
		return fmt.Sprintf("?%d", key)
	}
	return fmt.Sprintf("%s%d", pitchNames[key%12], key/12-1)
}

// SequenceEntry is one note of the debug note sequence
type SequenceEntry struct {
	Offset float64 `json:"offset"`
	Pitch  string  `json:"pitch"`
	Part   string  `json:"part"`
}

// NoteSequence lists sounding notes by onset in quarter notes
func (tl Timeline) NoteSequence(s *Score) []SequenceEntry {
	out := make([]SequenceEntry, 0, len(tl.Notes))
	for _, n := range tl.Notes {
		offset := math.Round(float64(n.Start)/TicksPerQuarter*100) / 100
		part := ""
		if n.Part < len(s.Parts) {
			part = s.Parts[n.Part].ID
		}
		out = append(out, SequenceEntry{Offset: offset, Pitch: PitchName(n.Key), Part: part})
	}
	return out
}
