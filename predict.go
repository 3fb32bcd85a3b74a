package main

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/jbrukh/bayesian"
	"github.com/pkg/errors"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	yaml "gopkg.in/yaml.v2"
)

const defaultNeighbors = 10

// applyRules auto-categorizes uncategorized transactions from a rules file in
// this format:
//
//	Food:
//	  - ^STARBUCKS
//	Travel:
//	  - ^LYFT\ +\*RIDE
//
// If the file is absent the pass is a no-op. Rule categories are provisional,
// like predictions: they never confirm a row.
func applyRules(s *ledgerStore, rulesPath string, sum *runSummary) error {
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil
	}
	rules := make(map[string][]string)
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return errors.Wrapf(err, "unable to parse rules at %s", rulesPath)
	}
	type rule struct {
		category string
		re       *regexp.Regexp
	}
	var compiled []rule
	for category, patterns := range rules {
		for _, pattern := range patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return errors.Wrapf(err, "bad rule pattern %q", pattern)
			}
			compiled = append(compiled, rule{category, re})
		}
	}
	// Map order is not stable; first match must be.
	sort.Slice(compiled, func(i, j int) bool {
		if compiled[i].category != compiled[j].category {
			return compiled[i].category < compiled[j].category
		}
		return compiled[i].re.String() < compiled[j].re.String()
	})

	processed, ok, err := readTable[ProcessedTransaction](s, tblProcessed)
	if err != nil || !ok {
		return err
	}
	var matched []ProcessedTransaction
	for _, t := range processed {
		if t.Category != "" || t.CategoryConfirmed {
			continue
		}
		for _, r := range compiled {
			if r.re.MatchString(t.Desc) {
				t.Category = r.category
				matched = append(matched, t)
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	stats, err := appendOrMerge(s, tblProcessed, matched, incomingWins)
	if err != nil {
		return errors.Wrap(err, "rules merge failed")
	}
	sum.ruled = stats.Updated + stats.Added
	return nil
}

// predictCategories fills in missing categories by fuzzy nearest neighbor
// over the training corpus: for each uncategorized, unconfirmed transaction,
// rank every training description by edit distance (ties by corpus insertion
// order), take the k nearest, and assign the majority category among them.
// When several categories tie for the majority, the lexicographically
// smallest wins, so re-runs are deterministic. Predictions never confirm a
// row; a later overlay can overwrite them. An empty corpus makes the whole
// pass a no-op.
func predictCategories(s *ledgerStore, k int, sum *runSummary) error {
	corpus, ok, err := readTable[TrainingExample](s, tblTraining)
	if err != nil {
		return err
	}
	if !ok || len(corpus) == 0 {
		sum.predictionSkipped = true
		return nil
	}
	processed, ok, err := readTable[ProcessedTransaction](s, tblProcessed)
	if err != nil || !ok {
		return err
	}

	var predicted []ProcessedTransaction
	for _, t := range processed {
		if t.Category != "" || t.CategoryConfirmed {
			continue
		}
		t.Category = nearestCategory(t.Desc, corpus, k)
		predicted = append(predicted, t)
	}
	if len(predicted) == 0 {
		return nil
	}
	stats, err := appendOrMerge(s, tblProcessed, predicted, incomingWins)
	if err != nil {
		return errors.Wrap(err, "prediction merge failed")
	}
	sum.predicted = stats.Updated + stats.Added
	sum.reviewCandidates = disagreements(predicted, corpus)
	return nil
}

func nearestCategory(desc string, corpus []TrainingExample, k int) string {
	type neighbor struct {
		dist int
		pos  int
	}
	neighbors := make([]neighbor, len(corpus))
	for i, ex := range corpus {
		d := levenshtein.DistanceForStrings([]rune(desc), []rune(ex.Desc), levenshtein.DefaultOptions)
		neighbors[i] = neighbor{d, i}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].dist != neighbors[j].dist {
			return neighbors[i].dist < neighbors[j].dist
		}
		return neighbors[i].pos < neighbors[j].pos
	})
	if k > len(neighbors) {
		k = len(neighbors)
	}

	counts := make(map[string]int)
	for _, n := range neighbors[:k] {
		counts[corpus[n.pos].Category]++
	}
	var best string
	var bestN int
	for category, n := range counts {
		if n > bestN || (n == bestN && category < best) {
			best, bestN = category, n
		}
	}
	return best
}

// disagreements trains a TF-IDF bayesian classifier on the corpus and lists
// the predictions whose bayesian top class differs from the nearest-neighbor
// choice. These surface in the run summary as candidates for a human pass in
// the spreadsheet; nothing is written back.
func disagreements(predicted []ProcessedTransaction, corpus []TrainingExample) []string {
	classSet := make(map[string]bool)
	for _, ex := range corpus {
		classSet[ex.Category] = true
	}
	if len(classSet) < 2 {
		// The classifier needs at least two classes to say anything.
		return nil
	}
	classes := make([]bayesian.Class, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, bayesian.Class(c))
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	cl := bayesian.NewClassifierTfIdf(classes...)
	for _, ex := range corpus {
		if terms := descTerms(ex.Desc); len(terms) > 0 {
			cl.Learn(terms, bayesian.Class(ex.Category))
		}
	}
	cl.ConvertTermsFreqToTfIdf()

	var out []string
	for _, t := range predicted {
		terms := descTerms(t.Desc)
		if len(terms) == 0 {
			continue
		}
		_, top, _ := cl.LogScores(terms)
		if string(classes[top]) != t.Category {
			out = append(out, t.TxnID+" "+t.Desc)
		}
	}
	return out
}

// descTerms lowercases a description and splits it into classifier terms.
func descTerms(desc string) []string {
	desc = strings.ToLower(desc)
	desc = strings.ReplaceAll(desc, "*", " ")
	return strings.Fields(desc)
}
