// Package bytecode compiles brainfuck source into a fixed-capacity program of
// two-field instructions and provides the tools to inspect and store it.
//
// The instruction format is designed for:
//   - Constant-time loop dispatch (every bracket carries the index of its
//     matching bracket, resolved once at compile time)
//   - Bounded memory (the program, and the stack of pending brackets used
//     while compiling, both have a fixed capacity)
//   - Easy serialization (programs can be written as "BFBC" images)
//
// # Architecture Overview
//
//   - Opcodes: the eight brainfuck operators plus an End terminator
//
//   - Instruction: an opcode with an optional jump target. Only the two
//     bracket opcodes carry a target, and the constructors refuse any other
//     combination.
//
//   - Program: the compiled instruction sequence, always terminated by a
//     single End instruction, with a source map from instruction index to
//     1-based line and column.
//
//   - Compiler: a single left-to-right pass over the source with an explicit
//     stack of pending '[' indices. Any byte that is not one of the eight
//     glyphs is a comment.
//
// # Compile Errors
//
// Compilation fails with a *CompileError carrying the source position of the
// offending character. Its Unwrap method returns one of ErrUnmatchedOpenBracket,
// ErrUnmatchedCloseBracket, ErrLoopNestingOverflow or ErrProgramTooLarge, so
// callers can test the kind with errors.Is.
package bytecode
