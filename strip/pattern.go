package strip

// Render tiles motif end to end across a strip of n pixels and cuts it off at
// exactly n pixels: pixel i takes motif pixel i mod k, where k is the motif
// length in pixels. The first k pixels are the motif itself.
func Render(motif []int, n int) (Snapshot, error) {
	if err := ValidateMotif(motif, n); err != nil {
		return Snapshot{}, err
	}
	out := make([]int, n*Channels)
	for i := 0; i < len(out); i += len(motif) {
		copy(out[i:], motif)
	}
	return Snapshot{values: out}, nil
}
