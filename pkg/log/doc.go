// Package log provides structured logging for HAMgr using zerolog.
//
// Every component gets a child logger via WithComponent, carrying a
// "component" field; operations that concern a single cluster or host
// attach WithClusterID / WithHost so log lines can be grepped per aggregate.
package log
