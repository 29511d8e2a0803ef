// Package rpc implements the correlated JSON-RPC 2.0 exchange with a plugin
// process over newline-delimited standard streams.
//
// Outgoing messages are either requests ({method, params}) or replies to
// requests the child initiated ({result}). Requests are correlated with
// responses by id through Channel. Calls never return a bare error: every
// outcome, including "no process" and transport failures, is a Result.
package rpc
