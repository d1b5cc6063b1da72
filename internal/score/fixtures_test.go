package score

import (
	"fmt"
	"strings"
)

// noteXML renders a pitched note, or a rest when step is empty
func noteXML(step string, octave, duration int, voice string, extra ...string) string {
	var b strings.Builder
	b.WriteString("<note>")
	for _, e := range extra {
		if e == "chord" {
			b.WriteString("<chord/>")
		}
	}
	if step == "" {
		b.WriteString("<rest/>")
	} else {
		fmt.Fprintf(&b, "<pitch><step>%s</step><octave>%d</octave></pitch>", step, octave)
	}
	fmt.Fprintf(&b, "<duration>%d</duration>", duration)
	for _, e := range extra {
		if strings.HasPrefix(e, "tie-") {
			fmt.Fprintf(&b, `<tie type="%s"/>`, strings.TrimPrefix(e, "tie-"))
		}
	}
	fmt.Fprintf(&b, "<voice>%s</voice><type>quarter</type></note>", voice)
	return b.String()
}

const attrs44 = `<attributes><divisions>1</divisions><key><fifths>0</fifths></key><time><beats>4</beats><beat-type>4</beat-type></time><clef><sign>G</sign><line>2</line></clef></attributes>`

func scoreXML(partList string, parts ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 3.1 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">
<score-partwise version="3.1"><work><work-title>Sample</work-title></work><part-list>` + partList + `</part-list>` +
		strings.Join(parts, "") + `</score-partwise>`
}

func scorePart(id, name string, program int) string {
	if program == 0 {
		return fmt.Sprintf(`<score-part id="%s"><part-name>%s</part-name></score-part>`, id, name)
	}
	return fmt.Sprintf(`<score-part id="%s"><part-name>%s</part-name><midi-instrument id="%s-I1"><midi-channel>1</midi-channel><midi-program>%d</midi-program></midi-instrument></score-part>`, id, name, id, program)
}

// sampleScore has a piano part with one full, one short and one overfull
// measure plus a silent second voice, and a percussion part holding only
// rests.
func sampleScore() string {
	piano := `<part id="P1">` +
		`<measure number="1">` + attrs44 +
		`<direction><direction-type><metronome><beat-unit>quarter</beat-unit><per-minute>90</per-minute></metronome></direction-type><sound tempo="90"/></direction>` +
		noteXML("C", 4, 1, "1") + noteXML("D", 4, 1, "1") + noteXML("E", 4, 1, "1") + noteXML("F", 4, 1, "1") +
		`<backup><duration>4</duration></backup>` +
		noteXML("", 0, 4, "2") +
		`</measure>` +
		`<measure number="2"><barline location="left"><repeat direction="forward"/></barline>` +
		noteXML("G", 4, 1, "1") + noteXML("A", 4, 1, "1") +
		`</measure>` +
		`<measure number="3">` +
		noteXML("C", 5, 1, "1") + noteXML("B", 4, 1, "1") + noteXML("A", 4, 1, "1") + noteXML("G", 4, 1, "1") + noteXML("F", 4, 1, "1") +
		`</measure>` +
		`</part>`

	drums := `<part id="P2">` +
		`<measure number="1">` + attrs44 + noteXML("", 0, 4, "1") + `</measure>` +
		`<measure number="2">` + noteXML("", 0, 4, "1") + `</measure>` +
		`<measure number="3">` + noteXML("", 0, 4, "1") + `</measure>` +
		`</part>`

	return scoreXML(scorePart("P1", "Piano", 1)+scorePart("P2", "Percussion", 0), piano, drums)
}

func silentScore() string {
	part := `<part id="P1"><measure number="1">` + attrs44 + noteXML("", 0, 4, "1") + `</measure></part>`
	return scoreXML(scorePart("P1", "Piano", 0), part)
}
