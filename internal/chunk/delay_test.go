package chunk

import (
	"testing"
	"time"
)

func fixed(v float64) RandFunc { return func() float64 { return v } }

func TestTyping_BaseAndCosts(t *testing.T) {
	d := DefaultDelays()
	// 2 words, 1 punctuation mark: 1500 + 400 + 300
	got := d.Typing("Bonjour Jarvis!", fixed(0.5))
	if got != 2200*time.Millisecond {
		t.Fatalf("expected 2.2s, got %v", got)
	}
}

func TestTyping_Clamped(t *testing.T) {
	d := DefaultDelays()
	long := "un deux trois quatre cinq six sept huit neuf dix onze douze treize quatorze quinze seize dix-sept dix-huit dix-neuf"
	if got := d.Typing(long, fixed(0.5)); got != 5*time.Second {
		t.Fatalf("expected clamp at 5s, got %v", got)
	}

	d.TypingBase = 0
	if got := d.Typing("", fixed(0.5)); got != time.Second {
		t.Fatalf("expected clamp at 1s, got %v", got)
	}
}

func TestTyping_JitterWithinTenPercent(t *testing.T) {
	d := DefaultDelays()
	lo := d.Typing("Bonjour Jarvis!", fixed(0))
	hi := d.Typing("Bonjour Jarvis!", fixed(0.999))
	if lo != 1980*time.Millisecond {
		t.Fatalf("low jitter: %v", lo)
	}
	if hi < 2400*time.Millisecond || hi > 2420*time.Millisecond {
		t.Fatalf("high jitter: %v", hi)
	}
}

func TestReading(t *testing.T) {
	d := DefaultDelays()
	if got := d.Reading("salut", fixed(0.5)); got != 500*time.Millisecond {
		t.Fatalf("expected floor of 500ms, got %v", got)
	}
	words := "a b c d e f g h i j k l m n o p q r s t u v w x y z"
	if got := d.Reading(words, fixed(0.5)); got != 2*time.Second {
		t.Fatalf("expected ceiling of 2s, got %v", got)
	}
	if got := d.Reading("a b c d e", fixed(0)); got != 650*time.Millisecond {
		t.Fatalf("expected 750ms-100ms, got %v", got)
	}
}

func TestBetween_Tiers(t *testing.T) {
	d := DefaultDelays()
	cases := []struct {
		text string
		want time.Duration
	}{
		{"une ligne", time.Second},
		{"a\nb", time.Second},
		{"a\nb\nc", 2 * time.Second},
		{"a\nb\nc\nd", 2 * time.Second},
		{"a\nb\nc\nd\ne", 3 * time.Second},
	}
	for _, tc := range cases {
		if got := d.Between(Chunk{Text: tc.text}, false, fixed(0)); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.text, tc.want, got)
		}
	}
}

func TestBetween_Variable(t *testing.T) {
	d := DefaultDelays()
	got := d.Between(Chunk{Text: "a\nb\nc"}, true, fixed(0))
	if got != 1800*time.Millisecond {
		t.Fatalf("expected 2s-10%%, got %v", got)
	}
}
