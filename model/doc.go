// Package model defines the provider-neutral generation interface (Model),
// its request/response shapes and the Drain helper that turns a streaming
// Generate call into a final response plus incremental text callbacks.
//
// Provider adapters live in sub-packages: openai, anthropic, gemini, and the
// deterministic rulebased model used for offline runs and tests.
package model
