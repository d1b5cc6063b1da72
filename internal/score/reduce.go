package score

import (
	"fmt"
	"strings"
)

// MiddleC is the highest key kept for the left hand; the right hand starts
// one semitone above it.
const MiddleC = 60

// Hand selects one hand's register of a keyboard score
type Hand string

const (
	HandBoth  Hand = ""
	HandLeft  Hand = "left"
	HandRight Hand = "right"
)

// Valid reports whether h is a known hand
func (h Hand) Valid() bool {
	switch h {
	case HandBoth, HandLeft, HandRight:
		return true
	}
	return false
}

// keeps reports whether a written key belongs to the hand
func (h Hand) keeps(key int) bool {
	switch h {
	case HandLeft:
		return key <= MiddleC
	case HandRight:
		return key > MiddleC
	}
	return true
}

// Voicing picks the one note kept at each onset of a monophonic reduction
type Voicing string

const (
	VoicingAll    Voicing = ""
	VoicingTop    Voicing = "top"
	VoicingBottom Voicing = "bottom"
	VoicingFirst  Voicing = "first"
	VoicingLast   Voicing = "last"
)

// Valid reports whether v is a known voicing
func (v Voicing) Valid() bool {
	switch v {
	case VoicingAll, VoicingTop, VoicingBottom, VoicingFirst, VoicingLast:
		return true
	}
	return false
}

// ParseHand accepts "left", "right", or "" / "both" for no filter
func ParseHand(s string) (Hand, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "both" {
		return HandBoth, nil
	}
	if h := Hand(s); h.Valid() {
		return h, nil
	}
	return HandBoth, fmt.Errorf("unknown hand %q (want left or right)", s)
}

// ParseVoicing accepts top, bottom, first, last, or "" / "all" to keep
// every note
func ParseVoicing(s string) (Voicing, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return VoicingAll, nil
	}
	if v := Voicing(s); v.Valid() {
		return v, nil
	}
	return VoicingAll, fmt.Errorf("unknown voicing %q (want top, bottom, first or last)", s)
}

// Reduce applies the hand filter, then the monophonic reduction. Unpitched
// notes belong to neither hand and are dropped by a hand filter.
func (tl Timeline) Reduce(opts Options) Timeline {
	out := tl
	if opts.Hand != HandBoth {
		out.Notes = make([]TimedNote, 0, len(tl.Notes))
		for _, n := range tl.Notes {
			if !n.Unpitched && opts.Hand.keeps(n.Written) {
				out.Notes = append(out.Notes, n)
			}
		}
	}
	if opts.Monophonic != VoicingAll {
		out.Notes = monophonic(out.Notes, opts.Monophonic)
	}
	return out
}

// monophonic keeps one note per onset across all parts. Notes arrive sorted
// by onset, then part, then document order. A kept note is cut short when
// the next onset arrives before it ends.
func monophonic(notes []TimedNote, v Voicing) []TimedNote {
	var out []TimedNote
	for i := 0; i < len(notes); {
		j := i
		for j < len(notes) && notes[j].Start == notes[i].Start {
			j++
		}
		pick := notes[i]
		for _, n := range notes[i+1 : j] {
			switch v {
			case VoicingTop:
				if n.Key > pick.Key {
					pick = n
				}
			case VoicingBottom:
				if n.Key < pick.Key {
					pick = n
				}
			case VoicingLast:
				pick = n
			}
		}
		if k := len(out) - 1; k >= 0 && out[k].Start+out[k].Length > pick.Start {
			out[k].Length = pick.Start - out[k].Start
		}
		out = append(out, pick)
		i = j
	}
	return out
}
