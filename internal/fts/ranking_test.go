package fts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func uniformDF(n int) DocFrequency {
	return func(string) int { return n }
}

func TestBM25RewardsHigherTermFrequency(t *testing.T) {
	df := uniformDF(5)
	cfg := DefaultConfig()
	cfg.BM25Params = &BM25Params{K1: 1.5, B: 0.75}

	sparse := Doc{Tokens: []string{"rust", "web"}, DocLength: 2, AvgDocLength: 3, CorpusSize: 10}
	dense := Doc{Tokens: []string{"rust", "rust", "rust"}, DocLength: 3, AvgDocLength: 3, CorpusSize: 10}

	scoreSparse := Rank(sparse, []string{"rust"}, df, cfg)
	scoreDense := Rank(dense, []string{"rust"}, df, cfg)
	assert.Greater(t, scoreDense, scoreSparse)
}

func TestLexemeWeightFavorsEarlyPosition(t *testing.T) {
	cfg := DefaultConfig()
	early := calculateLexemeWeight(1, cfg)
	late := calculateLexemeWeight(60, cfg)
	assert.Greater(t, early, late)
}

func TestCoverDensitySingleTermIsNeutral(t *testing.T) {
	cd := CoverDensity([]string{"rust", "programming"}, []string{"rust"})
	assert.Equal(t, 1.0, cd)
}

func TestCoverDensityRewardsProximity(t *testing.T) {
	tight := CoverDensity([]string{"rust", "programming", "language"}, []string{"rust", "programming"})
	loose := CoverDensity([]string{"rust", "a", "b", "c", "d", "e", "f", "g", "h", "programming"}, []string{"rust", "programming"})
	assert.Greater(t, tight, loose)
}

func TestRankCDAmplifiesOnlyWhenBothPositive(t *testing.T) {
	assert.Equal(t, 10.0, RankCD(10, 0))
	assert.Equal(t, 20.0, RankCD(10, 1))
	assert.Equal(t, 0.0, RankCD(0, 5))
}

// TestBM25AppliesWeightPerOccurrenceNotOnlyTheFirst guards against a
// prior bug where BM25 derived its position weight from only a query
// token's first occurrence (termStats returned count+firstPos, not every
// position). A doc whose two occurrences of "rust" carry different
// setweight() categories must score strictly between an otherwise
// identical doc whose occurrences are uniformly the higher category and
// one whose occurrences are uniformly the lower category — which only
// holds if each occurrence's own weight (not just the first's) feeds the
// sum.
func TestBM25AppliesWeightPerOccurrenceNotOnlyTheFirst(t *testing.T) {
	df := uniformDF(5)
	params := DefaultBM25Params()

	mixed := Doc{
		Tokens: []string{"rust", "rust"}, Weights: []float64{TokenWeight('D'), TokenWeight('A')},
		DocLength: 2, AvgDocLength: 2, CorpusSize: 10,
	}
	uniformHigh := Doc{
		Tokens: []string{"rust", "rust"}, Weights: []float64{TokenWeight('A'), TokenWeight('A')},
		DocLength: 2, AvgDocLength: 2, CorpusSize: 10,
	}
	uniformLow := Doc{
		Tokens: []string{"rust", "rust"}, Weights: []float64{TokenWeight('D'), TokenWeight('D')},
		DocLength: 2, AvgDocLength: 2, CorpusSize: 10,
	}

	scoreMixed := BM25(mixed, []string{"rust"}, df, params)
	scoreHigh := BM25(uniformHigh, []string{"rust"}, df, params)
	scoreLow := BM25(uniformLow, []string{"rust"}, df, params)

	assert.Greater(t, scoreMixed, scoreLow)
	assert.Greater(t, scoreHigh, scoreMixed)
}

// TestBM25HonorsSetweightMultiplier covers the per-occurrence Weights
// slice: the same single occurrence of "rust" scores higher when its
// setweight() category is 'A' (1.0) than when it is 'D' (0.1), and an
// unset (zero-value) Weights slice defaults every occurrence to 1.0.
func TestBM25HonorsSetweightMultiplier(t *testing.T) {
	df := uniformDF(5)
	params := DefaultBM25Params()

	heavy := Doc{Tokens: []string{"rust"}, Weights: []float64{TokenWeight('A')}, DocLength: 1, AvgDocLength: 1, CorpusSize: 10}
	light := Doc{Tokens: []string{"rust"}, Weights: []float64{TokenWeight('D')}, DocLength: 1, AvgDocLength: 1, CorpusSize: 10}
	unset := Doc{Tokens: []string{"rust"}, DocLength: 1, AvgDocLength: 1, CorpusSize: 10}

	scoreHeavy := BM25(heavy, []string{"rust"}, df, params)
	scoreLight := BM25(light, []string{"rust"}, df, params)
	scoreUnset := BM25(unset, []string{"rust"}, df, params)

	assert.Greater(t, scoreHeavy, scoreLight)
	assert.Equal(t, scoreHeavy, scoreUnset, "an unset Weights slice must default every occurrence to 1.0, same as category A")
}

func TestTokenWeightMapsSetweightCategories(t *testing.T) {
	assert.Equal(t, 1.0, TokenWeight('A'))
	assert.Equal(t, 0.4, TokenWeight('B'))
	assert.Equal(t, 0.2, TokenWeight('C'))
	assert.Equal(t, 0.1, TokenWeight('D'))
	assert.Equal(t, 1.0, TokenWeight(0), "an unset weight byte must default to full (category A) weight")
}

func TestTfIdfLengthPenaltyPunishesLongDocuments(t *testing.T) {
	df := uniformDF(5)
	params := DefaultTfIdfParams()

	short := Doc{Tokens: []string{"rust", "programming"}, DocLength: 2, AvgDocLength: 10, CorpusSize: 10}
	long := Doc{Tokens: append([]string{"rust", "programming"}, make([]string, 48)...), DocLength: 50, AvgDocLength: 10, CorpusSize: 10}

	scoreShort := TfIdf(short, []string{"rust"}, df, params)
	scoreLong := TfIdf(long, []string{"rust"}, df, params)
	assert.Greater(t, scoreShort, scoreLong)
}
