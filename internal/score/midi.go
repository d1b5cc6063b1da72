package score

import (
	"fmt"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const drumChannel = 9

// MIDIOptions tunes MIDI derivation
type MIDIOptions struct {
	Transpose    int     // semitones applied to pitched notes
	DefaultTempo float64 // used when the score carries no tempo at tick 0
	Velocity     uint8
}

func (o MIDIOptions) withDefaults() MIDIOptions {
	if o.DefaultTempo <= 0 {
		o.DefaultTempo = DefaultTempo
	}
	if o.Velocity == 0 {
		o.Velocity = 80
	}
	return o
}

// channelFor spreads parts over the melodic channels, skipping drums
func channelFor(part int) uint8 {
	ch := part % 15
	if ch >= drumChannel {
		ch++
	}
	return uint8(ch)
}

type timedMessage struct {
	tick  int
	order int // note-offs sort before note-ons on the same tick
	msg   []byte
}

// WriteMIDI derives a format 1 standard MIDI file from the in-memory score:
// a conductor track with meter and tempo, then one track per part.
func WriteMIDI(w io.Writer, s *Score, opts MIDIOptions) (Timeline, error) {
	tl := BuildTimeline(s, opts.Transpose)
	return tl, WriteTimeline(w, s, tl, opts)
}

// WriteTimeline encodes an already built timeline. Part names and programs
// come from the score's part list.
func WriteTimeline(w io.Writer, s *Score, tl Timeline, opts MIDIOptions) error {
	opts = opts.withDefaults()

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var conductor smf.Track
	conductor.Add(0, smf.MetaMeter(uint8(tl.MeterNum), uint8(tl.MeterDen)))
	tempos := tl.Tempos
	if len(tempos) == 0 || tempos[0].Tick > 0 {
		tempos = append([]TempoChange{{Tick: 0, BPM: opts.DefaultTempo}}, tempos...)
	}
	prev := 0
	for _, tc := range tempos {
		conductor.Add(uint32(tc.Tick-prev), smf.MetaTempo(tc.BPM))
		prev = tc.Tick
	}
	conductor.Close(0)
	if err := file.Add(conductor); err != nil {
		return fmt.Errorf("add conductor track: %w", err)
	}

	for pi, p := range s.Parts {
		ch := channelFor(pi)
		program := uint8(0)
		name := p.ID
		if sp := s.ScorePart(p.ID); sp != nil {
			if sp.Name != "" {
				name = sp.Name
			}
			for _, mi := range sp.MIDIInstruments {
				if mi.Program >= 1 && mi.Program <= 128 {
					program = uint8(mi.Program - 1)
					break
				}
			}
		}

		var msgs []timedMessage
		for _, n := range tl.Notes {
			if n.Part != pi {
				continue
			}
			nch := ch
			if n.Unpitched {
				nch = drumChannel
			}
			key := uint8(n.Key)
			msgs = append(msgs,
				timedMessage{tick: n.Start, order: 1, msg: midi.NoteOn(nch, key, opts.Velocity)},
				timedMessage{tick: n.Start + n.Length, order: 0, msg: midi.NoteOff(nch, key)},
			)
		}
		sort.SliceStable(msgs, func(i, j int) bool {
			if msgs[i].tick != msgs[j].tick {
				return msgs[i].tick < msgs[j].tick
			}
			return msgs[i].order < msgs[j].order
		})

		var track smf.Track
		track.Add(0, smf.MetaTrackSequenceName(name))
		track.Add(0, midi.ProgramChange(ch, program))
		last := 0
		for _, m := range msgs {
			track.Add(uint32(m.tick-last), m.msg)
			last = m.tick
		}
		track.Close(0)
		if err := file.Add(track); err != nil {
			return fmt.Errorf("add track %s: %w", p.ID, err)
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}
