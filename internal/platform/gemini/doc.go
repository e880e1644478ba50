// Package gemini provides the generation.Evaluator backed by Google's Gemini
// API, and a factory that resolves an evaluator per apiKeyHash.
package gemini
