package models

import (
	"math"
	"math/rand"
	"sort"
)

// treeConfig controls the growth of one regression tree. Trees are fitted to
// first and second order gradients; a plain least-squares tree is the case
// g = −y, h = 1, lambda = 0.
type treeConfig struct {
	maxDepth        int // 0 is unlimited
	maxLeaves       int // 0 is unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	minChildWeight  float64
	lambda          float64
	alpha           float64
	gamma           float64
	maxFeatures     int   // features tried per split, 0 is all
	monotone        []int // per feature: -1, 0, 1
}

type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *tree) predictRow(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// leaves returns the node index of every leaf.
func (t *tree) leaves() []int {
	var out []int
	for i, n := range t.Nodes {
		if n.Leaf {
			out = append(out, i)
		}
	}
	return out
}

// leafOf returns the leaf index a row lands in.
func (t *tree) leafOf(x []float64) int {
	i := 0
	for !t.Nodes[i].Leaf {
		if x[t.Nodes[i].Feature] <= t.Nodes[i].Threshold {
			i = t.Nodes[i].Left
		} else {
			i = t.Nodes[i].Right
		}
	}
	return i
}

func thresholdL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

func (c *treeConfig) weight(g, h float64) float64 {
	if h+c.lambda == 0 {
		return 0
	}
	return -thresholdL1(g, c.alpha) / (h + c.lambda)
}

func (c *treeConfig) score(g, h float64) float64 {
	if h+c.lambda == 0 {
		return 0
	}
	t := thresholdL1(g, c.alpha)
	return t * t / (h + c.lambda)
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
	wl, wr    float64
}

type growCandidate struct {
	node   int
	depth  int
	lo, hi float64
	split  *split
}

// treeGrower holds the data shared by every split search of one tree.
type treeGrower struct {
	cfg      treeConfig
	x        [][]float64
	g, h     []float64
	features []int
	rng      *rand.Rand
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (tg *treeGrower) sums(rows []int) (float64, float64) {
	var G, H float64
	for _, r := range rows {
		G += tg.g[r]
		H += tg.h[r]
	}
	return G, H
}

// grow builds a tree best-first: the leaf with the largest gain is split
// next, until no split gains or the leaf budget is spent.
func (tg *treeGrower) grow(rows []int) *tree {
	t := &tree{}
	G, H := tg.sums(rows)
	t.Nodes = append(t.Nodes, treeNode{Leaf: true, Value: tg.cfg.weight(G, H)})

	var open []growCandidate
	push := func(node, depth int, nodeRows []int, lo, hi float64) {
		if tg.cfg.maxDepth > 0 && depth >= tg.cfg.maxDepth {
			return
		}
		if len(nodeRows) < tg.cfg.minSamplesSplit || len(nodeRows) < 2*tg.cfg.minSamplesLeaf {
			return
		}
		if s := tg.bestSplit(nodeRows, lo, hi); s != nil {
			open = append(open, growCandidate{node: node, depth: depth, lo: lo, hi: hi, split: s})
		}
	}
	push(0, 0, rows, math.Inf(-1), math.Inf(1))

	leaves := 1
	for len(open) > 0 && (tg.cfg.maxLeaves == 0 || leaves < tg.cfg.maxLeaves) {
		best := 0
		for i := 1; i < len(open); i++ {
			if open[i].split.gain > open[best].split.gain {
				best = i
			}
		}
		c := open[best]
		open = append(open[:best], open[best+1:]...)
		s := c.split

		loL, hiL, loR, hiR := c.lo, c.hi, c.lo, c.hi
		if con := tg.constraint(s.feature); con != 0 {
			mid := (s.wl + s.wr) / 2
			if con > 0 {
				hiL, loR = math.Min(hiL, mid), math.Max(loR, mid)
			} else {
				loL, hiR = math.Max(loL, mid), math.Min(hiR, mid)
			}
		}

		left := len(t.Nodes)
		t.Nodes = append(t.Nodes,
			treeNode{Leaf: true, Value: clip(s.wl, loL, hiL)},
			treeNode{Leaf: true, Value: clip(s.wr, loR, hiR)},
		)
		t.Nodes[c.node] = treeNode{Feature: s.feature, Threshold: s.threshold, Left: left, Right: left + 1}
		leaves++

		push(left, c.depth+1, s.left, loL, hiL)
		push(left+1, c.depth+1, s.right, loR, hiR)
	}
	return t
}

func (tg *treeGrower) constraint(feature int) int {
	if feature < len(tg.cfg.monotone) {
		return tg.cfg.monotone[feature]
	}
	return 0
}

func (tg *treeGrower) candidateFeatures() []int {
	k := tg.cfg.maxFeatures
	if k <= 0 || k >= len(tg.features) {
		return tg.features
	}
	perm := tg.rng.Perm(len(tg.features))[:k]
	sort.Ints(perm)
	out := make([]int, k)
	for i, p := range perm {
		out[i] = tg.features[p]
	}
	return out
}

// bestSplit scans every candidate feature for the threshold with the
// largest gain. Splits violating a monotone constraint are skipped.
func (tg *treeGrower) bestSplit(rows []int, lo, hi float64) *split {
	cfg := &tg.cfg
	G, H := tg.sums(rows)
	parent := cfg.score(G, H)

	var best *split
	sorted := make([]int, len(rows))
	for _, f := range tg.candidateFeatures() {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, b int) bool { return tg.x[sorted[a]][f] < tg.x[sorted[b]][f] })

		var GL, HL float64
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			GL += tg.g[r]
			HL += tg.h[r]
			nL := i + 1
			xl, xr := tg.x[r][f], tg.x[sorted[i+1]][f]
			if xl == xr {
				continue
			}
			nR := len(sorted) - nL
			if nL < cfg.minSamplesLeaf || nR < cfg.minSamplesLeaf {
				continue
			}
			GR, HR := G-GL, H-HL
			if HL < cfg.minChildWeight || HR < cfg.minChildWeight {
				continue
			}
			gain := 0.5*(cfg.score(GL, HL)+cfg.score(GR, HR)-parent) - cfg.gamma
			if gain <= 1e-12 || (best != nil && gain <= best.gain) {
				continue
			}
			wl := clip(cfg.weight(GL, HL), lo, hi)
			wr := clip(cfg.weight(GR, HR), lo, hi)
			if con := tg.constraint(f); con != 0 && float64(con)*(wr-wl) < 0 {
				continue
			}
			thr := xl + (xr-xl)/2
			if thr >= xr {
				thr = xl
			}
			best = &split{feature: f, threshold: thr, gain: gain, wl: wl, wr: wr}
			best.left = append([]int(nil), sorted[:nL]...)
			best.right = append([]int(nil), sorted[nL:]...)
		}
	}
	return best
}

// growOblivious builds a symmetric tree: every level splits all leaves on
// the same feature and threshold, chosen to maximize the summed gain.
// Candidate thresholds are midpoints between distinct feature values,
// thinned to at most borderCount per feature.
func (tg *treeGrower) growOblivious(rows []int, depth, borderCount int) *tree {
	cfg := &tg.cfg
	groups := [][]int{rows}
	type level struct {
		feature   int
		threshold float64
	}
	var levels []level

	borders := make(map[int][]float64, len(tg.features))
	for _, f := range tg.features {
		borders[f] = featureBorders(tg.x, rows, f, borderCount)
	}

	for d := 0; d < depth; d++ {
		bestGain, bestF, bestThr := 0.0, -1, 0.0
		for _, f := range tg.candidateFeatures() {
			bs := borders[f]
			if len(bs) == 0 {
				continue
			}
			total := make([]float64, len(bs))
			for _, grp := range groups {
				if len(grp) < 2 {
					continue
				}
				G, H := tg.sums(grp)
				parent := cfg.score(G, H)
				sorted := append([]int(nil), grp...)
				sort.SliceStable(sorted, func(a, b int) bool { return tg.x[sorted[a]][f] < tg.x[sorted[b]][f] })
				var GL, HL float64
				p, nL := 0, 0
				for k, b := range bs {
					for p < len(sorted) && tg.x[sorted[p]][f] <= b {
						GL += tg.g[sorted[p]]
						HL += tg.h[sorted[p]]
						p++
						nL++
					}
					nR := len(sorted) - nL
					if nL < cfg.minSamplesLeaf || nR < cfg.minSamplesLeaf || nL == 0 || nR == 0 {
						continue
					}
					if HL < cfg.minChildWeight || H-HL < cfg.minChildWeight {
						continue
					}
					total[k] += 0.5 * (cfg.score(GL, HL) + cfg.score(G-GL, H-HL) - parent)
				}
			}
			for k, gain := range total {
				if gain-cfg.gamma > bestGain+1e-12 {
					bestGain, bestF, bestThr = gain-cfg.gamma, f, bs[k]
				}
			}
		}
		if bestF < 0 {
			break
		}
		levels = append(levels, level{feature: bestF, threshold: bestThr})
		next := make([][]int, 0, 2*len(groups))
		for _, grp := range groups {
			var l, r []int
			for _, row := range grp {
				if tg.x[row][bestF] <= bestThr {
					l = append(l, row)
				} else {
					r = append(r, row)
				}
			}
			next = append(next, l, r)
		}
		groups = next
	}

	// Materialize as a binary tree so prediction shares predictRow.
	t := &tree{}
	var build func(d, group int) int
	build = func(d, group int) int {
		idx := len(t.Nodes)
		t.Nodes = append(t.Nodes, treeNode{})
		if d == len(levels) {
			G, H := tg.sums(groups[group])
			t.Nodes[idx] = treeNode{Leaf: true, Value: cfg.weight(G, H)}
			return idx
		}
		l := build(d+1, 2*group)
		r := build(d+1, 2*group+1)
		t.Nodes[idx] = treeNode{Feature: levels[d].feature, Threshold: levels[d].threshold, Left: l, Right: r}
		return idx
	}
	build(0, 0)
	return t
}

func featureBorders(x [][]float64, rows []int, f, maxBorders int) []float64 {
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = x[r][f]
	}
	sort.Float64s(values)
	var mids []float64
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			mids = append(mids, values[i-1]+(values[i]-values[i-1])/2)
		}
	}
	if maxBorders <= 0 || len(mids) <= maxBorders {
		return mids
	}
	out := make([]float64, 0, maxBorders)
	step := float64(len(mids)) / float64(maxBorders)
	for k := 0; k < maxBorders; k++ {
		out = append(out, mids[int(float64(k)*step)])
	}
	return out
}
