package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic approximation.
const eulerGamma = 0.5772156649015329

// ForestParams configures isolation forest training.
type ForestParams struct {
	Trees       int
	MaxSamples  int     // upper bound on ψ, the per-tree subsample size
	MaxFeatures float64 // fraction of columns drawn per tree
	Seed        uint64
}

// Node is one node of a flattened isolation tree. Leaves have Left = -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int32   `json:"l"`
	Right     int32   `json:"r"`
	Size      int     `json:"n"`
}

// Tree is an isolation tree stored in preorder.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// IsolationForest is an ensemble of isolation trees.
type IsolationForest struct {
	Width      int    `json:"width"`
	SampleSize int    `json:"sample_size"`
	Trees      []Tree `json:"trees"`
}

// FitForest trains an isolation forest on rows. Training is deterministic for a given seed.
func FitForest(rows [][]float64, p ForestParams) (*IsolationForest, error) {
	n := len(rows)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 rows to fit a forest, got %d", n)
	}
	if p.Trees <= 0 {
		return nil, fmt.Errorf("trees must be positive, got %d", p.Trees)
	}
	width := len(rows[0])

	psi := n
	if p.MaxSamples > 0 && p.MaxSamples < psi {
		psi = p.MaxSamples
	}
	perTree := int(p.MaxFeatures * float64(width))
	if perTree < 1 || p.MaxFeatures <= 0 {
		perTree = 1
	}
	if perTree > width {
		perTree = width
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	// Seeds are drawn up front so the result does not depend on scheduling.
	master := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, p.Trees)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	f := &IsolationForest{
		Width:      width,
		SampleSize: psi,
		Trees:      make([]Tree, p.Trees),
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for i := range f.Trees {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			r := rand.New(rand.NewPCG(seeds[i], uint64(i)))
			b := &builder{
				rows:        rows,
				rng:         r,
				features:    sampleIndices(r, width, perTree),
				heightLimit: heightLimit,
			}
			f.Trees[i] = Tree{Nodes: b.build(sampleIndices(r, n, psi))}
		}(i)
	}
	wg.Wait()

	return f, nil
}

// Score returns the score_samples value of x: -2^(-E[h(x)]/c(ψ)).
// More negative is more anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	avg := total / float64(len(f.Trees))
	norm := averagePathLength(f.SampleSize)
	if norm <= 0 {
		return -1
	}
	return -math.Pow(2, -avg/norm)
}

func (t *Tree) pathLength(x []float64) float64 {
	i := int32(0)
	depth := 0.0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return depth + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

type builder struct {
	rows        [][]float64
	rng         *rand.Rand
	features    []int
	heightLimit int
	nodes       []Node
}

func (b *builder) build(idx []int) []Node {
	b.nodes = make([]Node, 0, 2*len(idx))
	b.grow(idx, 0)
	return b.nodes
}

func (b *builder) grow(idx []int, depth int) int32 {
	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Feature: -1, Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.heightLimit || len(idx) <= 1 {
		return self
	}

	feature, lo, hi, ok := b.pickSplit(idx)
	if !ok {
		return self
	}
	threshold := lo + b.rng.Float64()*(hi-lo)
	if threshold <= lo {
		threshold = math.Nextafter(lo, hi)
	}

	// Partition in place around the threshold.
	k := 0
	for i := range idx {
		if b.rows[idx[i]][feature] < threshold {
			idx[i], idx[k] = idx[k], idx[i]
			k++
		}
	}

	left := b.grow(idx[:k], depth+1)
	right := b.grow(idx[k:], depth+1)
	n := &b.nodes[self]
	n.Feature = feature
	n.Threshold = threshold
	n.Left = left
	n.Right = right
	return self
}

// pickSplit draws features in random order until one varies over idx.
func (b *builder) pickSplit(idx []int) (int, float64, float64, bool) {
	order := b.rng.Perm(len(b.features))
	for _, o := range order {
		feature := b.features[o]
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.rows[i][feature]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// sampleIndices draws k distinct indices from [0, n) using Floyd's algorithm.
func sampleIndices(r *rand.Rand, n, k int) []int {
	seen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := r.IntN(j + 1)
		if _, dup := seen[t]; dup {
			t = j
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
