// Package data provides data quality validation for backtest sources.
// Validates for missing loop rounds, extreme price swings, and duplicate
// rounds before a BacktestAdapter trusts it. Record order is not checked;
// rounds are sorted by loopCount.
package data

import (
	"math"
	"sort"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var decimalHundred = decimal.NewFromInt(100)

// TimeSeriesQualityValidator checks a source experiment's recorded time
// series for problems that would make a lossless backtest replay
// meaningless: missing rounds, duplicate rounds, and extreme
// round-to-round price swings for one token.
type TimeSeriesQualityValidator struct {
	logger *zap.Logger

	MaxRoundMove float64 // max fractional price move between consecutive rounds for one token
}

// DataIssue is one quality problem found in a source's time series.
type DataIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // "critical", "high", "medium", "low"
	LoopFrom int    `json:"loop_from"`
	LoopTo   int    `json:"loop_to"`
	Token    string `json:"token"`
	Message  string `json:"message"`
}

// QualityReport summarizes a source experiment's replay usability.
type QualityReport struct {
	ExperimentID string      `json:"experiment_id"`
	TotalRounds  int         `json:"total_rounds"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"quality_score"` // 0-100
	IsUsable     bool        `json:"is_usable"`

	MissingRoundCount  int `json:"missing_round_count"`
	DuplicateRoundCount int `json:"duplicate_round_count"`
	PriceAnomalyCount  int `json:"price_anomaly_count"`
}

// NewTimeSeriesQualityValidator creates a validator with crypto-market
// defaults: tokens here routinely move fast, so the tolerance for a
// single round-to-round swing is wide.
func NewTimeSeriesQualityValidator(logger *zap.Logger) *TimeSeriesQualityValidator {
	return &TimeSeriesQualityValidator{logger: logger, MaxRoundMove: 5.0}
}

// Validate runs all quality checks on a source experiment's recorded
// time series, grouped by loopCount the same way BacktestAdapter groups
// them for replay.
func (v *TimeSeriesQualityValidator) Validate(experimentID string, records []types.TimeSeriesRecord) *QualityReport {
	if len(records) == 0 {
		return &QualityReport{
			ExperimentID: experimentID,
			Issues:       []DataIssue{{Type: "NO_DATA", Severity: "critical", Message: "no recorded time series"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	loops := make([]int, 0)
	seenLoops := make(map[int]bool)
	for _, rec := range records {
		if !seenLoops[rec.LoopCount] {
			seenLoops[rec.LoopCount] = true
			loops = append(loops, rec.LoopCount)
		}
	}
	sort.Ints(loops)

	issues := make([]DataIssue, 0)
	issues = append(issues, v.checkMissingRounds(loops)...)
	issues = append(issues, v.checkDuplicateRounds(records)...)
	issues = append(issues, v.checkPriceAnomalies(records)...)

	missing := countIssuesByType(issues, "MISSING_ROUND")
	duplicate := countIssuesByType(issues, "DUPLICATE_ROUND")
	priceAnomalies := countIssuesByType(issues, "EXTREME_MOVE")

	score := qualityScore(len(loops), issues)

	return &QualityReport{
		ExperimentID:        experimentID,
		TotalRounds:         len(loops),
		Issues:              issues,
		QualityScore:        score,
		IsUsable:            score >= 50,
		MissingRoundCount:   missing,
		DuplicateRoundCount: duplicate,
		PriceAnomalyCount:   priceAnomalies,
	}
}

// checkMissingRounds finds gaps in the ascending loopCount sequence.
func (v *TimeSeriesQualityValidator) checkMissingRounds(loops []int) []DataIssue {
	issues := make([]DataIssue, 0)
	for i := 1; i < len(loops); i++ {
		if gap := loops[i] - loops[i-1]; gap > 1 {
			issues = append(issues, DataIssue{
				Type: "MISSING_ROUND", Severity: "medium",
				LoopFrom: loops[i-1], LoopTo: loops[i],
				Message: "gap in recorded rounds",
			})
		}
	}
	return issues
}

// checkDuplicateRounds finds a (token, loopCount) pair recorded twice.
func (v *TimeSeriesQualityValidator) checkDuplicateRounds(records []types.TimeSeriesRecord) []DataIssue {
	issues := make([]DataIssue, 0)
	seen := make(map[string]bool)
	for _, rec := range records {
		key := rec.TokenAddress + "|" + rec.Blockchain + "|" + itoa(rec.LoopCount)
		if seen[key] {
			issues = append(issues, DataIssue{
				Type: "DUPLICATE_ROUND", Severity: "high",
				LoopFrom: rec.LoopCount, LoopTo: rec.LoopCount, Token: rec.TokenSymbol,
				Message: "token recorded twice in the same round",
			})
			continue
		}
		seen[key] = true
	}
	return issues
}

// checkPriceAnomalies flags a round-to-round price swing for one token
// beyond MaxRoundMove, tracked per token in ascending round order.
func (v *TimeSeriesQualityValidator) checkPriceAnomalies(records []types.TimeSeriesRecord) []DataIssue {
	issues := make([]DataIssue, 0)

	byToken := make(map[string][]types.TimeSeriesRecord)
	for _, rec := range records {
		key := rec.TokenAddress + "|" + rec.Blockchain
		byToken[key] = append(byToken[key], rec)
	}

	for _, rows := range byToken {
		sort.Slice(rows, func(i, j int) bool { return rows[i].LoopCount < rows[j].LoopCount })
		for i := 1; i < len(rows); i++ {
			prev := rows[i-1].PriceUSD
			if prev.IsZero() {
				continue
			}
			move := rows[i].PriceUSD.Sub(prev).Div(prev).Abs()
			moveFloat, _ := move.Float64()
			if moveFloat > v.MaxRoundMove {
				issues = append(issues, DataIssue{
					Type: "EXTREME_MOVE", Severity: "low",
					LoopFrom: rows[i-1].LoopCount, LoopTo: rows[i].LoopCount, Token: rows[i].TokenSymbol,
					Message: "price moved " + move.Mul(decimalHundred).StringFixed(0) + "% between rounds",
				})
			}
		}
	}
	return issues
}

func qualityScore(totalRounds int, issues []DataIssue) int {
	if totalRounds == 0 {
		return 0
	}
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penalty += 10
		case "high":
			penalty += 5
		case "medium":
			penalty += 2
		case "low":
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(totalRounds)/100) * 10
	score := 100 - math.Min(normalized, 100)
	return int(math.Max(0, math.Min(100, score)))
}

func countIssuesByType(issues []DataIssue, kinds ...string) int {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	count := 0
	for _, issue := range issues {
		if set[issue.Type] {
			count++
		}
	}
	return count
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
