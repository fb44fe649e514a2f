package telephony

import "strings"

// Tone is a DTMF keypad symbol in the provider's vocabulary.
type Tone string

const (
	ToneZero     Tone = "Zero"
	ToneOne      Tone = "One"
	ToneTwo      Tone = "Two"
	ToneThree    Tone = "Three"
	ToneFour     Tone = "Four"
	ToneFive     Tone = "Five"
	ToneSix      Tone = "Six"
	ToneSeven    Tone = "Seven"
	ToneEight    Tone = "Eight"
	ToneNine     Tone = "Nine"
	ToneAsterisk Tone = "Asterisk"
	TonePound    Tone = "Pound"
	ToneA        Tone = "A"
	ToneB        Tone = "B"
	ToneC        Tone = "C"
	ToneD        Tone = "D"

	// FallbackTone replaces any symbol outside the keypad set.
	FallbackTone = ToneZero
)

var toneBySymbol = map[rune]Tone{
	'0': ToneZero,
	'1': ToneOne,
	'2': ToneTwo,
	'3': ToneThree,
	'4': ToneFour,
	'5': ToneFive,
	'6': ToneSix,
	'7': ToneSeven,
	'8': ToneEight,
	'9': ToneNine,
	'*': ToneAsterisk,
	'#': TonePound,
	'A': ToneA,
	'B': ToneB,
	'C': ToneC,
	'D': ToneD,
}

var symbolByTone = func() map[Tone]rune {
	m := make(map[Tone]rune, len(toneBySymbol))
	for r, t := range toneBySymbol {
		m[t] = r
	}
	return m
}()

// ToneFor maps one keypad symbol. Matching is case-sensitive: lowercase a-d
// and anything else outside the keypad yield FallbackTone and ok=false.
func ToneFor(r rune) (Tone, bool) {
	if t, ok := toneBySymbol[r]; ok {
		return t, true
	}
	return FallbackTone, false
}

// ParseTones splits a digit sequence into tones, one per symbol, in order.
// Unknown symbols become FallbackTone rather than being dropped.
func ParseTones(value string) []Tone {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	out := make([]Tone, 0, len(value))
	for _, r := range value {
		t, _ := ToneFor(r)
		out = append(out, t)
	}
	return out
}

// Symbol returns the keypad character for a tone.
func (t Tone) Symbol() string {
	if r, ok := symbolByTone[t]; ok {
		return string(r)
	}
	return string(symbolByTone[FallbackTone])
}

// Digits renders tones as a keypad string, e.g. "1#".
func Digits(tones []Tone) string {
	var b strings.Builder
	for _, t := range tones {
		b.WriteString(t.Symbol())
	}
	return b.String()
}
