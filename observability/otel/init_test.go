package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = secret ,broken, =x,tenant=slots")
	if len(got) != 2 || got["api-key"] != "secret" || got["tenant"] != "slots" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "slotmarketd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestBuildResourceCarriesAttributes(t *testing.T) {
	res, err := buildResource(Config{
		ServiceName: "slotmarketd",
		Environment: "test",
		Attributes:  map[string]string{"market.validator": "slot1abc", "empty": " "},
	})
	if err != nil {
		t.Fatalf("build resource: %v", err)
	}
	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	if found["service.name"] != "slotmarketd" || found["deployment.environment"] != "test" {
		t.Fatalf("missing service attributes: %v", found)
	}
	if found["market.validator"] != "slot1abc" {
		t.Fatalf("missing market attribute: %v", found)
	}
	if _, ok := found["empty"]; ok {
		t.Fatalf("blank attributes must be skipped")
	}
}
