package matching

// Result is the output of one scoring call.
type Result struct {
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Score combines a vector with a weight config into a 0-100 score.
//
// Every weighted factor appears in the breakdown. A factor the vector does
// not carry contributes 0. Summation runs in sorted name order so the result
// does not depend on map iteration.
func Score(v FactorVector, cfg WeightConfig) Result {
	breakdown := make(map[string]float64, len(cfg.Weights))
	total := 0.0
	for _, name := range sortedNames(cfg.Weights) {
		value, _ := v.Value(name)
		contribution := 100 * cfg.Weights[name] * value
		breakdown[name] = contribution
		total += contribution
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return Result{Score: total, Breakdown: breakdown}
}

// IsHot reports whether a score reaches the config's hot-match threshold.
func IsHot(score float64, cfg WeightConfig) bool {
	return cfg.HotThreshold > 0 && score >= cfg.HotThreshold
}
