package audio

// Peak returns the peak absolute amplitude of samples, clamped to [0, 1].
// It is the energy measure used for speech detection: cheap, and sensitive
// to the onset of voiced sound.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak > 1 {
		return 1
	}
	return peak
}
