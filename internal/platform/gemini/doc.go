// Package gemini implements generation.Backend on the Gemini Batches API.
//
// A batch becomes a single batch job with one inlined request per member,
// in member order, so the job's inlined responses map back to requests by
// position.
//
// Key components:
//
// 1. Backend:
//   - Builds prompts for each payload kind from embedded templates
//   - Submits batch jobs and polls their state
//   - Prices results from token usage, falling back to a flat per-request cost
//
// 2. ArtifactSink:
//   - Persists generated images and returns a reference for the result update
//
// API errors are classified by status code: 408, 429 and 5xx are transient,
// everything else is permanent.
package gemini
