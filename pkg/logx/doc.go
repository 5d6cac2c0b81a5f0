// Package logx wraps zerolog behind a small Logger/Service pair.
//
// The Service owns the sinks (console, file, event bus) and can hot-swap
// them via Apply() without invalidating Loggers handed out earlier. The
// event-bus sink mirrors log records to the operator dashboard as
// (text, severity) pairs, rate-limited so a log storm cannot flood
// subscribers.
package logx
