// Package generation defines the boundary between the review engine and the
// language model. An Evaluator turns a prompt plus document context into a
// JSON result; a Reviewer builds the review prompts, validates every result
// against a JSON Schema and converts it into typed verdicts.
package generation
