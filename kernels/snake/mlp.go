// mlp.go - Vorwaertsnetz des Snake-Agenten
//
// Enthaelt:
// - GenomeSize: Anzahl Gewichte (inkl. Bias) fuer eine Topologie
// - mlp.forward: Bias zuerst, ReLU in versteckten Schichten, lineare Ausgabe

package snake

import "github.com/genevo/fiteval/program"

// GenomeSize returns the number of weights, biases included, a genome needs
// for the network described by cfg.
func GenomeSize(cfg program.Config) int {
	size, prev := 0, cfg.InputSize
	for range cfg.NumHidden {
		size += (prev + 1) * cfg.HiddenSize
		prev = cfg.HiddenSize
	}
	return size + (prev+1)*cfg.OutputSize
}

// mlp evaluates a genome as a fully connected network. Weights past the end
// of the genome read as zero.
type mlp struct {
	cfg     program.Config
	weights []float32

	// scratch layers, sized for the widest layer
	cur, next []float32
}

func newMLP(cfg program.Config, weights []float32) *mlp {
	width := max(cfg.InputSize, cfg.HiddenSize, cfg.OutputSize, 1)
	return &mlp{
		cfg:     cfg,
		weights: weights,
		cur:     make([]float32, width),
		next:    make([]float32, width),
	}
}

func (m *mlp) weight(i int) float32 {
	if i < len(m.weights) {
		return m.weights[i]
	}
	return 0
}

// forward returns the index of the largest output, or -1 without outputs.
func (m *mlp) forward(input []float32) int {
	copy(m.cur, input[:m.cfg.InputSize])
	width := m.cfg.InputSize
	offset := 0

	layer := func(size int, activate bool) {
		for j := range size {
			sum := m.weight(offset) // bias
			offset++
			for i := range width {
				sum += m.cur[i] * m.weight(offset)
				offset++
			}
			if activate {
				sum = relu(sum)
			}
			m.next[j] = sum
		}
		m.cur, m.next = m.next, m.cur
		width = size
	}

	for range m.cfg.NumHidden {
		layer(m.cfg.HiddenSize, true)
	}
	layer(m.cfg.OutputSize, false)

	return argmax(m.cur[:width])
}

func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func argmax(v []float32) int {
	best := -1
	for i, x := range v {
		if best < 0 || x > v[best] {
			best = i
		}
	}
	return best
}
