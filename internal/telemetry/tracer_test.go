// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ExporterType: "grpc"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if provider.tp != nil {
		t.Error("Expected noop provider (tp == nil)")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	if span.IsRecording() {
		t.Error("Expected noop tracer span to be non-recording")
	}
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of noop provider failed: %v", err)
	}
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "invalid"})
	if err == nil {
		t.Fatal("Expected error for invalid exporter type")
	}
	expectedMsg := "unsupported exporter type: invalid (supported: grpc, http)"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewProvider_HTTPExporter(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ExporterType: "http",
		Endpoint:     "localhost:4318",
		SamplingRate: 0.5,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if provider.tp == nil {
		t.Fatal("Expected sdk provider")
	}
	_ = provider.Shutdown(context.Background())
}

func TestAttributes(t *testing.T) {
	attrs := NativeCommandAttributes("kill", 7)
	want := map[attribute.Key]attribute.Value{
		NativeCommandKey:   attribute.StringValue("kill"),
		NativeCommandIDKey: attribute.IntValue(7),
	}
	for _, kv := range attrs {
		if want[kv.Key] != kv.Value {
			t.Errorf("attribute %s = %v, want %v", kv.Key, kv.Value, want[kv.Key])
		}
	}

	if got := DriverAttributes("install", ""); len(got) != 1 {
		t.Errorf("expected staging attribute to be omitted, got %v", got)
	}
}

func TestResourceAttributes(t *testing.T) {
	got := map[attribute.Key]string{}
	for _, kv := range resourceAttributes(Config{
		ServiceVersion: "v0.1.0",
		Commit:         "abc1234",
		NativeBinary:   "/data/local/tmp/rootcap/bin/capture",
	}) {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		"service.name":    "rootcapd",
		"service.version": "v0.1.0",
		BuildCommitKey:    "abc1234",
		NativeBinaryKey:   "/data/local/tmp/rootcap/bin/capture",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, kv := range resourceAttributes(Config{ServiceName: "custom"}) {
		if kv.Key == BuildCommitKey || kv.Key == NativeBinaryKey {
			t.Errorf("unexpected empty attribute %s", kv.Key)
		}
	}
}

func TestSampler_FollowsParent(t *testing.T) {
	for rate, want := range map[float64]string{1: "AlwaysOnSampler", 0: "AlwaysOffSampler", 0.25: "TraceIDRatioBased"} {
		desc := newSampler(rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+want) {
			t.Errorf("rate %v: sampler %q, want parent-based %s", rate, desc, want)
		}
	}
}
