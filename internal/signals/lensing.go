package signals

// #region lensing-terms

// EmotionalTerm folds a valence/arousal pair into a single lensing term
// using their mean, clamped to [-1, 1].
func EmotionalTerm(valence, arousal float64) float64 {
	return clampSigned((valence + arousal) / 2)
}

// CausalTerm averages causal context weights into a lensing term in [-1, 1].
// An empty context yields 0.
func CausalTerm(weights map[string]float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return clampSigned(sum / float64(len(weights)))
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion lensing-terms
