// Package spec defines the specification types that describe chains of data
// processes: RunSpec for a single process run, BranchSpec for a linear chain,
// and TreeSpec for a combinatorial set of chains produced by parameter sweeps.
//
// Specs carry a canonical string form that is stable across key order and
// process restarts. The canonical string is the identity of a run in the run
// catalogue, so two specs with the same canonical string resolve to the same
// run directory.
package spec
