package fts

import "math"

// Normalization is the bitmask of rank() post-processing divisors.
type Normalization uint8

const (
	NormNone                   Normalization = 0
	NormLogLength              Normalization = 1 << 0
	NormLength                 Normalization = 1 << 1
	NormMeanHarmonic            Normalization = 1 << 2
	NormUniqueWordCount         Normalization = 1 << 3
	NormLogUniqueWordCount      Normalization = 1 << 4
	NormUniqueWordCountPlusOne  Normalization = 1 << 5
)

// LexemeWeight is the position-class a token occurrence falls into.
type LexemeWeight int

const (
	WeightD LexemeWeight = iota
	WeightC
	WeightB
	WeightA
)

// weightFromPosition classifies a zero-based occurrence position into
// the D/C/B/A position-class buckets.
func weightFromPosition(pos int) LexemeWeight {
	switch {
	case pos <= 10:
		return WeightA
	case pos <= 25:
		return WeightB
	case pos <= 50:
		return WeightC
	default:
		return WeightD
	}
}

// BM25Params holds the classic BM25 tunables; defaults k1=1.5, b=0.75.
type BM25Params struct {
	K1 float64
	B  float64
}

func DefaultBM25Params() BM25Params { return BM25Params{K1: 1.5, B: 0.75} }

// TfIdfNormalization selects the term-frequency normalization variant.
type TfIdfNormalization int

const (
	TfNone TfIdfNormalization = iota
	TfL1
	TfL2
	TfMax
	TfLog
	TfDoubleNormK
)

// TfIdfParams configures the TF-IDF ranking variant.
type TfIdfParams struct {
	TfNormalization    TfIdfNormalization
	DoubleNormK        float64
	DocNormalization   TfIdfNormalization // only None/L1/L2 meaningful here
	UseSmoothedIdf     bool
	UseLengthPenalty   bool
}

func DefaultTfIdfParams() TfIdfParams {
	return TfIdfParams{
		TfNormalization:  TfLog,
		DocNormalization: TfL2,
		UseSmoothedIdf:   true,
		UseLengthPenalty: true,
	}
}

// Config bundles every ranking knob, mirroring the reference
// RankingConfig defaults exactly.
type Config struct {
	Weights          [4]float64 // indexed by LexemeWeight: D,C,B,A
	Normalization    Normalization
	UseIDF           bool
	UseLexemeWeights bool
	BM25Params       *BM25Params
	TfIdf            TfIdfParams
}

func DefaultConfig() Config {
	return Config{
		Weights:          [4]float64{0.1, 0.2, 0.4, 1.0},
		Normalization:    NormNone,
		UseIDF:           true,
		UseLexemeWeights: true,
		BM25Params:       nil,
		TfIdf:            DefaultTfIdfParams(),
	}
}

// positionBoostTable gives the strong early-position boost applied by
// calculate_lexeme_weight (1-indexed occurrence order within a document).
var positionBoostTable = [...]float64{512, 256, 128, 64, 32, 16}

func positionBoost(occurrence int) float64 {
	if occurrence >= 1 && occurrence <= len(positionBoostTable) {
		return positionBoostTable[occurrence-1]
	}
	return 1
}

var bm25PositionWeightTable = [...]float64{256, 128, 64, 32, 16, 8}

func bm25PositionWeight(occurrence int) float64 {
	if occurrence >= 1 && occurrence <= len(bm25PositionWeightTable) {
		return bm25PositionWeightTable[occurrence-1]
	}
	return 1
}

// calculateLexemeWeight scores one token occurrence at a 1-based
// position using the position-class weight table and a strong inverse
// early-position boost, exactly as the reference ranking module does.
func calculateLexemeWeight(position int, cfg Config) float64 {
	category := weightFromPosition(position - 1)
	categoryWeight := cfg.Weights[category]
	boost := positionBoost(position)
	return categoryWeight * boost * (2.0 + 1.0/float64(position))
}

// Doc is the minimal shape ranking needs: every token occurrence's text
// and 1-based position within the document, plus the corpus stats used
// by IDF/length normalization. Weights carries each token's setweight
// multiplier (storage.Token.Weight decoded via TokenWeight), aligned by
// index with Tokens; a nil/short Weights defaults every occurrence to
// 1.0 (TextWeight::A, the reference processor's un-setweight()'d value).
type Doc struct {
	Tokens       []string // positions implied by slice index+1
	Weights      []float64
	DocLength    int // total token count (post stop-word removal)
	AvgDocLength float64
	CorpusSize   int // N
}

func (d Doc) weightAt(i int) float64 {
	if i >= 0 && i < len(d.Weights) {
		return d.Weights[i]
	}
	return 1.0
}

// TokenWeight maps a storage.Token.Weight byte ('A'/'B'/'C'/'D', as set
// by setweight()) to its numeric multiplier, matching TextWeight::to_f32
// exactly. An unset/unrecognized byte defaults to 'A' == 1.0, the
// reference text processor's default before any setweight() call.
func TokenWeight(w byte) float64 {
	switch w {
	case 'B':
		return 0.4
	case 'C':
		return 0.2
	case 'D':
		return 0.1
	default: // 'A' or unset
		return 1.0
	}
}

// DocFrequency returns, for each distinct query token, how many corpus
// documents contain it (df). Callers (the GIN index) supply this since
// only it knows the full postings.
type DocFrequency func(token string) int

func calculateIDF(N, df int) float64 {
	if df == 0 {
		return 0
	}
	return math.Log((1.0 + (float64(N-df) + 0.5)/(float64(df) + 0.5)))
}

func calculateSmoothedIDF(N, df int) float64 {
	return math.Log((float64(N)+1)/(float64(df)+1)) + 1
}

func calculateClassicIDF(N, df int) float64 {
	if df == 0 {
		return 0
	}
	return math.Log(float64(N) / float64(df))
}

// BM25 computes the BM25 relevance score of doc against the query
// tokens, following calculate_bm25_score exactly: per-term IDF times a
// saturating term-frequency factor, then summed over every occurrence of
// the term (not just its first) scaled by that occurrence's early-
// position boost and its own setweight() multiplier.
func BM25(doc Doc, query []string, df DocFrequency, params BM25Params) float64 {
	var score float64
	for _, qt := range query {
		occurrences := termOccurrences(doc, qt)
		if len(occurrences) == 0 {
			continue
		}
		tf := len(occurrences)
		idf := calculateIDF(doc.CorpusSize, df(qt))
		avg := doc.AvgDocLength
		if avg < 1 {
			avg = 1
		}
		lengthNorm := 1 - params.B + params.B*(float64(doc.DocLength)/avg)
		numerator := float64(tf) * (params.K1 + 1)
		denominator := float64(tf) + params.K1*lengthNorm
		termScore := idf * numerator / denominator
		for _, occ := range occurrences {
			score += termScore * bm25PositionWeight(occ.pos) * occ.weight
		}
	}
	return score
}

type occurrence struct {
	pos    int // 1-based
	weight float64
}

// termOccurrences returns every occurrence of tok in doc, each with its
// 1-based position and setweight() multiplier, mirroring
// calculate_term_frequency's Vec<(position, weight)> exactly (it returns
// every match, not just the first).
func termOccurrences(doc Doc, tok string) []occurrence {
	var occs []occurrence
	for i, t := range doc.Tokens {
		if t == tok {
			occs = append(occs, occurrence{pos: i + 1, weight: doc.weightAt(i)})
		}
	}
	return occs
}

// Rank computes rank(doc, query, cfg): BM25 when cfg.BM25Params is set
// (normalized, and divided back out of the position boost when
// use_lexeme_weights is false, mirroring the reference's /256.0
// fallback), else a lexeme-weight/IDF score over every occurrence.
func Rank(doc Doc, query []string, df DocFrequency, cfg Config) float64 {
	if cfg.BM25Params != nil {
		score := BM25(doc, query, df, *cfg.BM25Params)
		score = applyNormalization(score, doc, cfg.Normalization)
		if !cfg.UseLexemeWeights {
			score /= 256.0
		}
		return score
	}

	var score float64
	for _, qt := range query {
		occurrences := termOccurrences(doc, qt)
		if len(occurrences) == 0 {
			continue
		}
		tf := float64(len(occurrences))
		idf := 1.0
		if cfg.UseIDF {
			idf = calculateClassicIDF(doc.CorpusSize, df(qt))
		}
		for _, occ := range occurrences {
			lexemeWeight := 1.0
			if cfg.UseLexemeWeights {
				lexemeWeight = calculateLexemeWeight(occ.pos, cfg)
			}
			score += tf * idf * occ.weight * lexemeWeight
		}
	}
	return applyNormalization(score, doc, cfg.Normalization)
}

func applyNormalization(score float64, doc Doc, norm Normalization) float64 {
	uniqueTerms := len(uniqueStrings(doc.Tokens))
	if norm&NormLogLength != 0 {
		score /= 1 + math.Log(math.Max(1, float64(doc.DocLength)))
	}
	if norm&NormLength != 0 && doc.DocLength > 0 {
		score /= float64(doc.DocLength)
	}
	if norm&NormUniqueWordCount != 0 && uniqueTerms > 0 {
		score /= float64(uniqueTerms)
	}
	if norm&NormLogUniqueWordCount != 0 {
		score /= 1 + math.Log(math.Max(1, float64(uniqueTerms)))
	}
	if norm&NormUniqueWordCountPlusOne != 0 {
		score /= float64(uniqueTerms + 1)
	}
	if norm&NormMeanHarmonic != 0 {
		score *= harmonicMeanFactor(doc.Tokens)
	}
	return score
}

func harmonicMeanFactor(tokens []string) float64 {
	if len(tokens) == 0 {
		return 1
	}
	var sumInv float64
	n := 0
	for i := range tokens {
		sumInv += 1.0 / float64(i+1)
		n++
	}
	if sumInv == 0 {
		return 1
	}
	return float64(n) / sumInv
}

func uniqueStrings(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

// CoverDensity computes the inverse-cube proximity score times the
// quadratic density-of-matched-terms score times an inverse-square
// average-gap factor, matching calculate_cover_density exactly.
func CoverDensity(docTokens []string, query []string) float64 {
	if len(query) < 2 {
		return 1.0
	}
	queryset := uniqueStrings(query)
	var positions []int
	matched := make(map[string]struct{})
	for i, t := range docTokens {
		if _, ok := queryset[t]; ok {
			positions = append(positions, i+1)
			matched[t] = struct{}{}
		}
	}
	if len(positions) < 2 {
		return 0
	}
	minSpan := positions[len(positions)-1] - positions[0] + 1
	proximityScore := 1.0 / math.Pow(float64(minSpan), 3)
	densityScore := math.Pow(float64(len(matched))/float64(len(query)), 2)

	var gapSum float64
	gaps := 0
	for i := 1; i < len(positions); i++ {
		gapSum += float64(positions[i] - positions[i-1])
		gaps++
	}
	avgDistance := float64(minSpan)
	if gaps > 0 {
		avgDistance = gapSum / float64(gaps)
	}
	if avgDistance == 0 {
		avgDistance = 1
	}
	combined := proximityScore * densityScore * (1 + 1/(avgDistance*avgDistance))
	return combined * 128.0
}

// RankCD applies cover-density amplification on top of a base rank:
// base * (1 + coverDensity) when both are positive, else base unchanged.
func RankCD(base float64, coverDensity float64) float64 {
	if base > 0 && coverDensity > 0 {
		return base * (1 + coverDensity)
	}
	return base
}

// TfIdf computes the TF-IDF relevance score of doc against query,
// following calculate_tfidf_score: per-term normalized TF times IDF,
// accumulated into the score and an L1/L2 normalization factor, then the
// aggressive length-ratio-squared penalty is applied when enabled. This
// is kept exactly as specified even though it is aggressive — see
// DESIGN.md's Open Question decision.
func TfIdf(doc Doc, query []string, df DocFrequency, params TfIdfParams) float64 {
	rawTF := make(map[string]int)
	maxTF := 0
	for _, t := range doc.Tokens {
		rawTF[t]++
		if rawTF[t] > maxTF {
			maxTF = rawTF[t]
		}
	}

	var score, normFactor float64
	for _, qt := range query {
		tf := rawTF[qt]
		normalizedTF := normalizeTF(tf, maxTF, params)
		var idf float64
		if params.UseSmoothedIdf {
			idf = calculateSmoothedIDF(doc.CorpusSize, df(qt))
		} else {
			idf = calculateClassicIDF(doc.CorpusSize, df(qt))
		}
		termScore := normalizedTF * idf
		score += termScore
		switch params.DocNormalization {
		case TfL1:
			normFactor += math.Abs(termScore)
		case TfL2:
			normFactor += termScore * termScore
		}
	}

	switch params.DocNormalization {
	case TfL1:
		if normFactor > 0 {
			score /= normFactor
		}
	case TfL2:
		if normFactor > 0 {
			score /= math.Sqrt(normFactor)
		}
	}

	if params.UseLengthPenalty {
		avg := doc.AvgDocLength
		if avg < 1 {
			avg = 1
		}
		lengthRatio := float64(doc.DocLength) / avg
		if lengthRatio > 0 {
			score /= math.Pow(lengthRatio, 2.0)
		}
	}
	return score
}

func normalizeTF(tf, maxTF int, params TfIdfParams) float64 {
	switch params.TfNormalization {
	case TfL2:
		return math.Sqrt(float64(tf))
	case TfMax:
		if maxTF == 0 {
			return 0
		}
		return float64(tf) / float64(maxTF)
	case TfLog:
		if tf > 0 {
			return 1 + math.Log(float64(tf))
		}
		return 0
	case TfDoubleNormK:
		if maxTF == 0 {
			return params.DoubleNormK
		}
		return params.DoubleNormK + (1-params.DoubleNormK)*(float64(tf)/float64(maxTF))
	default: // TfNone, TfL1
		return float64(tf)
	}
}
