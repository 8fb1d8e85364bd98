// Package ledger accumulates the integer variables that choice effects
// modify.
//
// Apply and Fold never mutate their inputs.
package ledger

// Apply returns vars with every delta in effects added to it. Missing keys
// count as zero; keys absent from effects are copied unchanged.
func Apply(vars, effects map[string]int) map[string]int {
	out := make(map[string]int, len(vars)+len(effects))
	for k, v := range vars {
		out[k] = v
	}
	for k, d := range effects {
		out[k] += d
	}
	return out
}

// Fold applies each effect map in order.
func Fold(vars map[string]int, seq ...map[string]int) map[string]int {
	out := Apply(vars, nil)
	for _, effects := range seq {
		for k, d := range effects {
			out[k] += d
		}
	}
	return out
}
