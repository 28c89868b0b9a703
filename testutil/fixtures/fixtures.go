// Package fixtures provides predefined metadata frames and spec documents
// for tests. Everything returns a fresh copy, so tests can mutate freely.
package fixtures

import (
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
)

// SampleFrame returns a small sample metadata frame: four samples across
// two conditions and two batches.
func SampleFrame() *metadata.Frame {
	frame := metadata.NewFrame([]string{"sample_id", "condition", "batch"})
	rows := [][]string{
		{"s1", "control", "b1"},
		{"s2", "control", "b2"},
		{"s3", "treated", "b1"},
		{"s4", "treated", "b2"},
	}
	for _, row := range rows {
		if err := frame.AppendRow(row); err != nil {
			panic(err)
		}
	}
	return frame
}

// PartitionedFrame returns SampleFrame with a partition column over
// condition, the shape comparative processes read.
func PartitionedFrame() *metadata.Frame {
	frame := metadata.NewFrame([]string{"sample_id", "condition", "batch", metadata.PartitionColumn})
	rows := [][]string{
		{"s1", "control", "b1", "control"},
		{"s2", "control", "b2", "control"},
		{"s3", "treated", "b1", "treated"},
		{"s4", "treated", "b2", "treated"},
	}
	for _, row := range rows {
		if err := frame.AppendRow(row); err != nil {
			panic(err)
		}
	}
	return frame
}

// BranchSpec returns a two process chain: normalize into cluster.
func BranchSpec() *spec.BranchSpec {
	bs, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize"},
		{Process: "cluster", Params: map[string]any{"resolution": 0.5}},
	})
	if err != nil {
		panic(err)
	}
	return bs
}

// SubsetBranchSpec returns a chain whose first process subsets to the
// control condition.
func SubsetBranchSpec() *spec.BranchSpec {
	bs, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize", Subset: map[string]any{"condition": "control"}},
		{Process: "cluster"},
	})
	if err != nil {
		panic(err)
	}
	return bs
}

// TreeSpec returns a tree that sweeps cluster resolution over two values,
// expanding to two branches.
func TreeSpec() *spec.TreeSpec {
	ts, err := spec.NewTreeSpec([]map[string]any{
		{"_PROCESS_": "normalize"},
		{"_PROCESS_": "cluster", "_PARAMS_": map[string]any{
			"resolution": map[string]any{"_SWEEP_": []any{0.5, 1.0}},
		}},
	}, nil)
	if err != nil {
		panic(err)
	}
	return ts
}

// BranchYAML is the file form of BranchSpec.
const BranchYAML = `- _PROCESS_: normalize
- _PROCESS_: cluster
  _PARAMS_:
    resolution: 0.5
`

// TreeYAML is the file form of TreeSpec.
const TreeYAML = `- _PROCESS_: normalize
- _PROCESS_: cluster
  _PARAMS_:
    resolution:
      _SWEEP_: [0.5, 1.0]
`

// MetaTSV is the file form of SampleFrame.
const MetaTSV = "sample_id\tcondition\tbatch\n" +
	"s1\tcontrol\tb1\n" +
	"s2\tcontrol\tb2\n" +
	"s3\ttreated\tb1\n" +
	"s4\ttreated\tb2\n"
