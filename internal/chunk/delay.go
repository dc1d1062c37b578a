package chunk

import (
	"strings"
	"time"
)

// Delays parameterises the pacing of chunked delivery.
type Delays struct {
	TypingBase     time.Duration
	TypingPerWord  time.Duration
	TypingPerPunct time.Duration
	TypingMin      time.Duration
	TypingMax      time.Duration

	ReadingPerWord time.Duration
	ReadingMin     time.Duration
	ReadingMax     time.Duration
	ReadingJitter  time.Duration

	ShortPause  time.Duration // chunks of up to 2 lines
	MediumPause time.Duration // up to 4 lines
	LongPause   time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		TypingBase:     1500 * time.Millisecond,
		TypingPerWord:  200 * time.Millisecond,
		TypingPerPunct: 300 * time.Millisecond,
		TypingMin:      1000 * time.Millisecond,
		TypingMax:      5000 * time.Millisecond,
		ReadingPerWord: 150 * time.Millisecond,
		ReadingMin:     500 * time.Millisecond,
		ReadingMax:     2000 * time.Millisecond,
		ReadingJitter:  200 * time.Millisecond,
		ShortPause:     1000 * time.Millisecond,
		MediumPause:    2000 * time.Millisecond,
		LongPause:      3000 * time.Millisecond,
	}
}

// RandFunc returns a value in [0, 1).
type RandFunc func() float64

func wordCount(text string) int {
	return len(strings.Split(text, " "))
}

func punctuationCount(text string) int {
	return strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?") +
		strings.Count(text, ",") + strings.Count(text, ";") + strings.Count(text, ":")
}

func clamp(d, lo, hi time.Duration) time.Duration {
	return max(lo, min(hi, d))
}

// jitter returns d moved by up to ±spread/2, using rnd.
func jitter(d time.Duration, spread float64, rnd RandFunc) time.Duration {
	return d + time.Duration(float64(d)*spread*(rnd()-0.5))
}

// Typing is how long the typing indicator stays up before text is sent:
// a base plus a cost per word and per punctuation mark, clamped, ±10%.
func (d Delays) Typing(text string, rnd RandFunc) time.Duration {
	raw := d.TypingBase +
		time.Duration(wordCount(text))*d.TypingPerWord +
		time.Duration(punctuationCount(text))*d.TypingPerPunct
	return jitter(clamp(raw, d.TypingMin, d.TypingMax), 0.2, rnd)
}

// Reading simulates the time spent reading the incoming message.
func (d Delays) Reading(text string, rnd RandFunc) time.Duration {
	raw := clamp(time.Duration(wordCount(text))*d.ReadingPerWord, d.ReadingMin, d.ReadingMax)
	return raw + time.Duration(float64(d.ReadingJitter)*(rnd()-0.5))
}

// Between is the pause after a chunk, chosen by the chunk's line count.
func (d Delays) Between(c Chunk, variable bool, rnd RandFunc) time.Duration {
	lines := strings.Count(c.Text, "\n") + 1
	pause := d.LongPause
	switch {
	case lines <= 2:
		pause = d.ShortPause
	case lines <= 4:
		pause = d.MediumPause
	}
	if variable {
		pause = jitter(pause, 0.2, rnd)
	}
	return pause
}
