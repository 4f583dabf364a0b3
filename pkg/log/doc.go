// Package log provides structured logging for wardend using zerolog.
//
// Init configures the global logger's level and output format (plain
// console or JSON) once at startup. WithComponent, WithStableID and
// WithContainerName return child loggers pre-tagged with the field that
// identifies what the log line is about, so every package logs through
// a consistently labeled logger instead of threading fields by hand.
package log
