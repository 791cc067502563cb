// Package logx is the structured logging layer for outreachd.
//
// It wraps zerolog behind a small Field-func API so call sites stay
// stable while sinks (console, JSON file, rate-limited alert fanout)
// can be swapped at runtime via Service.Apply.
package logx
