// Package model defines the provider-agnostic abstractions for invoking
// generative model backends.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition)
//   - Expose token counting and embedding where backends support them
//   - Facilitate scripted mocking for tests (MockModel)
//
// Providers (Gemini, Anthropic, OpenAI) implement the Model interface from
// this package so the engine remains decoupled from vendor SDKs.
package model
