// Package testutil holds small helpers shared by package tests across
// the module -- a discard logging.Logger chief among them, so every
// package's tests don't each redeclare the same stub.
package testutil

// DiscardLogger implements github.com/ausocean/utils/logging.Logger,
// discarding everything. Satisfies the interface structurally so tests
// don't need to import the logging package just to build a no-op one.
type DiscardLogger struct{}

func (DiscardLogger) SetLevel(int8)                    {}
func (DiscardLogger) Log(int8, string, ...interface{}) {}
func (DiscardLogger) Debug(string, ...interface{})     {}
func (DiscardLogger) Info(string, ...interface{})      {}
func (DiscardLogger) Warning(string, ...interface{})   {}
func (DiscardLogger) Error(string, ...interface{})     {}
func (DiscardLogger) Fatal(string, ...interface{})     {}
