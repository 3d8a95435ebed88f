// Package batcher resolves lists of optional calls through a single multicall batch.
//
// Absent calls and calls that fail key validation never reach the endpoint;
// duplicate calls are sent once and fanned back out in input order:
//
//	in:   [A, absent, B, A]
//	sent: [A, B]
//	out:  [result(A), InvalidResult, result(B), result(A)]
package batcher
