// Copyright (c) DataForest Authors.
// Licensed under the MIT License.

/*
Package main is the dataforest command line entry point.

The binary drives a forest from spec files: run executes the process chain
of a single branch, tree expands a tree spec across its parameter sweeps and
runs every branch through a bounded worker pool, and status reports
done/success/failed counts per process without launching anything.

Processes without a registered implementation run as passthroughs that copy
the branch metadata into the run dir, so a forest built from the CLI has the
same directory and catalogue layout as one built from library code.

The catalogue subcommand lists or rebuilds per-process run catalogues, and
migrate manages the schema of the database catalogue backend. Version,
BuildTime, and GitCommit are injected through ldflags.
*/
package main
