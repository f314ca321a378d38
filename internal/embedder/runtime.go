package embedder

// Runtime executes the transformer graph of an installed model
type Runtime interface {
	// Run feeds one padded [batch, seqLen] batch and returns the
	// last_hidden_state output flattened row-major as [batch, seqLen, hidden]
	Run(inputIDs, attentionMask, tokenTypeIDs []int64, batch, seqLen int) ([]float32, error)

	Close() error
}

// RuntimeFactory opens a Runtime over the model graph at modelPath whose
// hidden states have hidden dimensions
type RuntimeFactory func(modelPath string, hidden int) (Runtime, error)

// meanPool averages the hidden states of the tokens the attention mask
// keeps, one vector per sequence
func meanPool(states []float32, mask []int64, batch, seqLen, hidden int) [][]float32 {
	pooled := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		sum := make([]float64, hidden)
		var kept float64
		for t := 0; t < seqLen; t++ {
			if mask[b*seqLen+t] == 0 {
				continue
			}
			kept++
			row := states[(b*seqLen+t)*hidden : (b*seqLen+t+1)*hidden]
			for h, v := range row {
				sum[h] += float64(v)
			}
		}
		if kept == 0 {
			kept = 1
		}
		vector := make([]float32, hidden)
		for h := range sum {
			vector[h] = float32(sum[h] / kept)
		}
		pooled[b] = vector
	}
	return pooled
}

// padBatch lays sequences out as a [batch, seqLen] matrix padded with
// padID, plus the matching attention mask and all-zero token type ids
func padBatch(sequences [][]int64, padID int64) (ids, mask, types []int64, seqLen int) {
	for _, seq := range sequences {
		seqLen = max(seqLen, len(seq))
	}
	n := len(sequences) * seqLen
	ids = make([]int64, n)
	mask = make([]int64, n)
	types = make([]int64, n)
	for b, seq := range sequences {
		for t := 0; t < seqLen; t++ {
			i := b*seqLen + t
			if t < len(seq) {
				ids[i] = seq[t]
				mask[i] = 1
			} else {
				ids[i] = padID
			}
		}
	}
	return ids, mask, types, seqLen
}
