package match

import (
	"sort"

	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// Match is one scored candidate inside a MatchResult.
type Match struct {
	Scores        map[Algorithm]float64 `json:"scores"`
	CandidateID   string                `json:"candidate_id"`
	Text          string                `json:"text"`
	Pattern       *model.Pattern        `json:"-"`
	Merchant      *Merchant             `json:"-"`
	Score         float64               `json:"score"`
	AdjustedScore float64               `json:"adjusted_score"`
}

// MatchResult is the ranked outcome of one match operation. Treat it as
// immutable: the transformation methods return fresh copies and never touch
// the receiver.
type MatchResult struct {
	Query      string      `json:"query"`
	Matches    []Match     `json:"matches"`
	Algorithms []Algorithm `json:"algorithms"`
	Err        error       `json:"-"`
	TimedOut   bool        `json:"timed_out"`
	Success    bool        `json:"success"`
}

// emptyResult builds the canonical no-matches outcome for a query.
func emptyResult(query string, algorithms []Algorithm) MatchResult {
	return MatchResult{
		Query:      query,
		Algorithms: algorithms,
		Success:    false,
	}
}

// Best returns the top-ranked match.
func (r MatchResult) Best() (Match, bool) {
	if len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[0], true
}

// Filter returns a copy keeping only matches with adjusted score >= min.
func (r MatchResult) Filter(min float64) MatchResult {
	out := r
	out.Matches = make([]Match, 0, len(r.Matches))
	for _, m := range r.Matches {
		if m.AdjustedScore >= min {
			out.Matches = append(out.Matches, m)
		}
	}
	out.Success = len(out.Matches) > 0
	return out
}

// Top returns a copy keeping only the n best matches.
func (r MatchResult) Top(n int) MatchResult {
	out := r
	if n < 0 {
		n = 0
	}
	if n > len(r.Matches) {
		n = len(r.Matches)
	}
	out.Matches = append([]Match(nil), r.Matches[:n]...)
	out.Success = len(out.Matches) > 0
	return out
}

// Merge combines two results over the same query, keeping the higher-scored
// entry when both saw the same candidate, then re-ranks.
func (r MatchResult) Merge(other MatchResult) MatchResult {
	byID := make(map[string]Match, len(r.Matches)+len(other.Matches))
	for _, m := range r.Matches {
		byID[m.CandidateID] = m
	}
	for _, m := range other.Matches {
		if existing, ok := byID[m.CandidateID]; !ok || m.AdjustedScore > existing.AdjustedScore {
			byID[m.CandidateID] = m
		}
	}

	merged := make([]Match, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sortMatches(merged)

	out := r
	out.Matches = merged
	out.Algorithms = unionAlgorithms(r.Algorithms, other.Algorithms)
	out.Success = len(merged) > 0
	out.TimedOut = r.TimedOut || other.TimedOut
	if out.Err == nil {
		out.Err = other.Err
	}
	return out
}

// sortMatches orders by adjusted score descending, with deterministic
// tie-breaks on raw score and candidate text.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].AdjustedScore != matches[j].AdjustedScore {
			return matches[i].AdjustedScore > matches[j].AdjustedScore
		}
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Text < matches[j].Text
	})
}

func unionAlgorithms(a, b []Algorithm) []Algorithm {
	seen := make(map[Algorithm]struct{}, len(a)+len(b))
	out := make([]Algorithm, 0, len(a)+len(b))
	for _, alg := range a {
		if _, ok := seen[alg]; !ok {
			seen[alg] = struct{}{}
			out = append(out, alg)
		}
	}
	for _, alg := range b {
		if _, ok := seen[alg]; !ok {
			seen[alg] = struct{}{}
			out = append(out, alg)
		}
	}
	return out
}
