// Package authorkit groups author mentions on bibliographic records into
// author identities and reconciles fresh clusterings with persisted ones.
package authorkit

const (
	AppName = "authorkit"
	Version = "0.1.0"
)
