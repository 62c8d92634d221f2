// Package telemetry streams broadcast events to HTTP clients as
// Server-Sent Events, with a bounded replay buffer for Last-Event-ID resume.
package telemetry
