// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package diff

import (
	"sort"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// matchingBlocks finds the longest common subsequence of a and b and
// returns it as non-overlapping, chronologically ordered runs, terminated
// by the canonical sentinel (len(a), len(b), 0).
//
// It reduces LCS to a longest-increasing-subsequence problem the classic
// Hunt-McIlroy way: collect every (i, j) pair where a[i] == b[j], ordered
// by i ascending and, within one i, j descending (so patience placement
// never chains two matches off the same a[i]); the longest increasing
// run of j over that sequence is the LCS.
func matchingBlocks(a, b []usbtx.DiffSummary) []Block {
	bPositions := make(map[usbtx.DiffSummary][]int, len(b))
	for j, v := range b {
		bPositions[v] = append(bPositions[v], j)
	}

	type candidate struct {
		i, j int
		prev *candidate
	}
	var tails []*candidate // tails[k].j is the smallest tail j of any chain of length k+1

	for i, v := range a {
		js := bPositions[v]
		for k := len(js) - 1; k >= 0; k-- {
			j := js[k]
			pos := sort.Search(len(tails), func(x int) bool { return tails[x].j >= j })
			var prev *candidate
			if pos > 0 {
				prev = tails[pos-1]
			}
			c := &candidate{i: i, j: j, prev: prev}
			switch {
			case pos == len(tails):
				tails = append(tails, c)
			default:
				tails[pos] = c
			}
		}
	}

	var pairs []struct{ i, j int }
	if len(tails) > 0 {
		for c := tails[len(tails)-1]; c != nil; c = c.prev {
			pairs = append(pairs, struct{ i, j int }{c.i, c.j})
		}
		for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
			pairs[l], pairs[r] = pairs[r], pairs[l]
		}
	}

	var blocks []Block
	for _, p := range pairs {
		if n := len(blocks); n > 0 {
			last := &blocks[n-1]
			if last.I+last.N == p.i && last.J+last.N == p.j {
				last.N++
				continue
			}
		}
		blocks = append(blocks, Block{I: p.i, J: p.j, N: 1})
	}
	return append(blocks, Block{I: len(a), J: len(b), N: 0})
}
