// Package logging builds the zerolog loggers used by the binaries.
//
// The configured level can be overridden from the environment:
//
//	OFFLINE_LOG_LEVEL=debug offline-dl download --name Home
//
// OFFLINE_LOG_NOCOLOR=true disables ANSI colours in console output.
package logging
