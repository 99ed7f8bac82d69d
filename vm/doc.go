// Package vm executes compiled brainfuck programs one instruction at a time
// and drives them under debugger control.
//
// A Machine owns the tape and the two registers (program counter and data
// pointer) and executes single instructions, reporting whether execution may
// continue, halted normally at End, or faulted on a data pointer bounds
// violation. A faulting instruction never advances the program counter, so
// the fault is always reported against the instruction that caused it.
//
// A Debugger owns the loaded Program and one Machine and sequences
// load, run, step, jump and continue:
//
//	Unloaded --Load--> Loaded --Run--> Running --End/fault--> Halted
//	                                      ^                      |
//	                                      +--------Run-----------+
//
// Loading always stops the current run first. A failed load leaves the
// debugger unloaded. Operations issued in the wrong state return
// ErrNotLoaded or ErrNotRunning, and bad arguments return a *UsageError;
// neither changes any state. NextContext and ContinueContext also stop when
// their context is done, leaving the run live.
package vm
