// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passwords in memory that is locked against
// swapping, excluded from core dumps, and zeroed on release.
//
// Buffer allocates its backing memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM with mlock, and marks
// it MADV_DONTDUMP. The garbage collector never sees the region, so it
// cannot copy or relocate the secret. Wipe zeroizes transient byte
// slices in a way the compiler cannot elide.
package secret
