package reference

import "github.com/FlavioCFOliveira/crcheck/internal/layout"

// Rectify clamps negative values of output to zero in place and returns the
// packed mask with a bit set for every element that was positive.
func Rectify(output []float32) []uint16 {
	flags := make([]bool, len(output))
	for i, v := range output {
		if v > 0 {
			flags[i] = true
		} else {
			output[i] = 0
		}
	}
	return layout.PackMask(flags)
}
