package matching

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading article", "The Beatles", "beatles"},
		{"article only", "The", "the"},
		{"article inside", "Rage Against the Machine", "rage against the machine"},
		{"diacritics", "Björk", "bjork"},
		{"case folding", "ABBEY ROAD", "abbey road"},
		{"parenthetical suffix", "Abbey Road (Remastered 2019)", "abbey road"},
		{"bracket suffix", "OK Computer [OKNOTOK 1997 2017]", "ok computer"},
		{"featuring clause", "Empire State of Mind featuring Alicia Keys", "empire state of mind"},
		{"feat abbreviation", "Song feat. Someone", "song"},
		{"ft abbreviation", "Song ft. Someone", "song"},
		{"feat in brackets", "Track (feat. Guest)", "track"},
		{"ampersand", "Simon & Garfunkel", "simon and garfunkel"},
		{"ampersand no spaces", "Simon&Garfunkel", "simon and garfunkel"},
		{"and unchanged", "Simon and Garfunkel", "simon and garfunkel"},
		{"apostrophe", "Sgt. Pepper's Lonely Hearts Club Band", "sgt peppers lonely hearts club band"},
		{"curly apostrophe", "Pepper’s", "peppers"},
		{"punctuation", "AC/DC", "ac dc"},
		{"whitespace", "  Kid    A  ", "kid a"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		for _, tt := range tests {
			once := Normalize(tt.input)
			if twice := Normalize(once); twice != once {
				t.Errorf("Normalize not idempotent for %q: %q then %q", tt.input, once, twice)
			}
		}
	})
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"The Beatles", "Beatles", 1, 1},
		{"Abbey Road", "Abbey Road (Remastered)", 1, 1},
		{"Abbey Road", "Abbey Raod", 0.8, 0.81},
		{"Abbey Road", "Let It Be", 0, 0.5},
		{"", "", 1, 1},
	}

	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q, %q) = %v, want [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestQueries(t *testing.T) {
	t.Run("ExactQuery", func(t *testing.T) {
		got := ExactQuery("beatles", "abbey road")
		want := `artist:"beatles" AND releasegroup:"abbey road" AND primarytype:album`
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("ExactQuery escapes quotes", func(t *testing.T) {
		got := ExactQuery(`a "b"`, "c")
		want := `artist:"a \"b\"" AND releasegroup:"c" AND primarytype:album`
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("FuzzyQuery", func(t *testing.T) {
		got := FuzzyQuery("beatles", "abbey road")
		want := `artist:(beatles~) AND releasegroup:(abbey~ AND road~) AND primarytype:album`
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("FuzzyQuery leaves short tokens exact and escapes syntax", func(t *testing.T) {
		got := FuzzyQuery("ac dc", "hey! you")
		want := `artist:(ac AND dc) AND releasegroup:(hey\!~ AND you~) AND primarytype:album`
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})
}
