// Copyright 2026 DataForest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil provides shared helpers for DataForest tests.

The package keeps test infrastructure in one place so individual packages
do not grow their own copies of forest scaffolding.

Context helpers (TestContext, TestContextWithTimeout, CancelledContext)
register cleanup automatically. Forest builders fabricate on-disk state:
TempForest seeds a root with metadata, WriteRunDir lays down a completed
run dir with its run_spec.yaml snapshot, and MarkIncomplete/MarkFailed turn
it into the in-flight and failed shapes the status checks look for.

The fixtures subpackage holds sample metadata frames and spec documents.
The mocks subpackage holds a recording catalogue.Store double with error
injection, and a RecordingProcess that captures every run a tree launches.

Synchronization helpers WaitFor and WaitForChannel poll with timeouts, and
MustJSON/MustParseJSON shorten test data construction.
*/
package testutil
