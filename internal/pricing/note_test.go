package pricing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// levelRecorder keeps the level of every record logged through it.
type levelRecorder struct {
	mu     sync.Mutex
	levels []slog.Level
}

func (r *levelRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *levelRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, rec.Level)
	return nil
}

func (r *levelRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *levelRecorder) WithGroup(string) slog.Handler      { return r }

func TestParse(t *testing.T) {
	p := NewParser(NewLexicon([]string{"Orb of Alteration", "Jeweller's Orb", "Exalted Orb"}), discardLogger())

	tests := []struct {
		note     string
		amount   float64
		currency string
		ok       bool
	}{
		{"~b/o 5 chaos", 5, "Chaos Orb", true},
		{"~price 5chaos", 5, "Chaos Orb", true},
		{"~price 1.5 ex", 1.5, "Exalted Orb", true},
		{"~price 1/2 exa", 0.5, "Exalted Orb", true},
		{"~b/o 3 orb-of-alteration", 3, "Orb of Alteration", true},
		{"~price 2 jewellers-orb", 2, "Jeweller's Orb", true},
		{"~price 4 Orb of Alteration", 4, "Orb of Alteration", true},
		{"~price 4 exalted orb", 4, "Exalted Orb", true},
		{"~b/o 7 C", 7, "Chaos Orb", true},
		{"~price 1/0 chaos", 0, "", false},
		{"~price 1,5 chaos", 0, "", false},
		{"~price 5 unobtainium", 0, "", false},
		{"~price five", 0, "", false},
		{"~skip 5 chaos", 0, "", false},
		{"price 5 chaos", 0, "", false},
		{"", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.note, func(t *testing.T) {
			got, ok := p.Parse(tt.note)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.InDelta(t, tt.amount, got.Amount, 1e-9)
			assert.Equal(t, tt.currency, got.Currency)
		})
	}
}

func TestParseEveryAbbreviation(t *testing.T) {
	p := NewParser(NewLexicon(nil), discardLogger())
	for _, table := range []map[string]string{officialCurrencies, communityCurrencies} {
		for abbrev, name := range table {
			got, ok := p.Parse("~price 1 " + abbrev)
			require.True(t, ok, abbrev)
			assert.Equal(t, name, got.Currency, abbrev)
		}
	}
}

func TestAbbreviationTablesAreDisjoint(t *testing.T) {
	for k := range communityCurrencies {
		_, dup := officialCurrencies[k]
		assert.False(t, dup, k)
	}
}

func TestLexiconNil(t *testing.T) {
	var l *Lexicon
	name, ok := l.Lookup("chaos")
	assert.True(t, ok)
	assert.Equal(t, "Chaos Orb", name)
	_, ok = l.Lookup("orb-of-alteration")
	assert.False(t, ok)
	assert.Zero(t, l.Len())
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker("~price 1 chaos"))
	assert.True(t, HasMarker("~"))
	assert.False(t, HasMarker(" ~price 1 chaos"))
	assert.False(t, HasMarker(""))
}

func TestParseLogLevels(t *testing.T) {
	tests := []struct {
		note  string
		level slog.Level
	}{
		{"~price 5 xyz", slog.LevelWarn},
		{"~price five chaos", slog.LevelDebug},
		{"~price 1/0 chaos", slog.LevelDebug},
		{"~b/o x5 exa", slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.note, func(t *testing.T) {
			rec := &levelRecorder{}
			p := NewParser(NewLexicon(nil), slog.New(rec))

			_, ok := p.Parse(tt.note)
			assert.False(t, ok)
			assert.Equal(t, []slog.Level{tt.level}, rec.levels)
		})
	}
}

func TestParseValidNoteLogsNothing(t *testing.T) {
	rec := &levelRecorder{}
	p := NewParser(NewLexicon(nil), slog.New(rec))

	_, ok := p.Parse("~b/o 5 chaos")
	assert.True(t, ok)
	assert.Empty(t, rec.levels)
}
