// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Native command attributes
	NativeCommandKey   = "native.command"
	NativeCommandIDKey = "native.command_id"
	NativeResultKey    = "native.result_code"

	// Audio driver attributes
	DriverOperationKey = "audio_driver.operation"
	DriverStageKey     = "audio_driver.stage"
	DriverStagingKey   = "audio_driver.staging_dir"

	// Resource attributes
	BuildCommitKey  = "rootcap.build.commit"
	NativeBinaryKey = "rootcap.native.binary"
)

// NativeCommandAttributes creates span attributes for a correlated native command.
func NativeCommandAttributes(command string, id int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(NativeCommandKey, command),
		attribute.Int(NativeCommandIDKey, id),
	}
}

// DriverAttributes creates audio driver operation attributes.
func DriverAttributes(operation, stagingDir string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(DriverOperationKey, operation)}
	if stagingDir != "" {
		attrs = append(attrs, attribute.String(DriverStagingKey, stagingDir))
	}
	return attrs
}
