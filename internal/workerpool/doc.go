// Package workerpool runs document extraction in parallel.
//
// Extraction touches third-party parsers that can crash or leak memory on
// malformed input, so the default ProcessPool runs each worker as a child
// process speaking length-delimited msgpack frames over stdin and stdout:
//
//	parent                          child (pdh extract-worker)
//	  | -- Request{path, type} -->    |
//	  | <-- Response{units} -------   |
//
// A worker that dies fails only the file it was processing; the next file
// gets a fresh worker. Pools are built for one batch and torn down after it,
// which releases worker memory and OCR engines.
//
// InlinePool honours the same contract with goroutines and is used when
// process isolation is disabled.
package workerpool
