// Copyright (c) DataForest Authors.
// Licensed under the MIT License.

/*
Package types defines the shared error vocabulary for dataforest.

types is the lowest-level common package. It depends on nothing inside the
module, so every other package can report failures through it without
creating import cycles.

# Error model

  - Error / ErrorCode: structured errors carrying a stable code, a message,
    an optional process name, and a retryable flag
  - NewError / NewErrorf: constructors, with WithCause, WithProcess and
    WithRetryable chainable setters
  - GetErrorCode / HasCode / IsRetryable: inspection helpers that unwrap
    through error chains

Codes are grouped by concern: spec construction (SPEC_INVALID,
DUPLICATE_PROCESS, SWEEP_INVALID), data operations (BAD_SUBSET, BAD_FILTER,
COLUMN_MISSING), run execution (INPUT_NOT_FOUND, HOOK_FAILED,
PROCESS_FAILED, CATALOGUE_CONFLICT), and infrastructure (STORAGE_ERROR,
CONFIG_INVALID).
*/
package types
