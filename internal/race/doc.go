// Package race models one live group run: the global race clock, the
// per-participant lifecycle (running, finished, completed), loop counting and
// the checkpoint snapshot used to recover a session after a restart. Every
// type here is free of IO so the state transitions can be driven directly
// from tests and from the TUI event loop.
package race
