// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. The flow and router packages log lifecycle and routing
// events through it; the NoOpLogger default keeps the library silent unless a
// logger is supplied.
package logging
