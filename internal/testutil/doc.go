// Package testutil contains helpers shared by package tests: a fluent
// builder for model contents, session seeding, failing session stores, a
// recording logger, a testify-backed model double and TurnEvent collection.
// It is not intended for production usage.
package testutil
