package toml_test

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	itoml "github.com/influxdata/shardkit/toml"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d itoml.Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Fatalf("unexpected duration: %s", d)
	}

	if err := d.UnmarshalText([]byte("ten seconds")); err == nil {
		t.Fatal("expected error")
	}
}

func TestGroup_Decode(t *testing.T) {
	var cfg struct {
		A itoml.Group `toml:"a"`
		B itoml.Group `toml:"b"`
		C itoml.Group `toml:"c"`
	}
	if _, err := toml.Decode(`
a = [4, 1, 9]
b = "2-5"
c = "7"
`, &cfg); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(itoml.Group{4, 1, 9}, cfg.A); diff != "" {
		t.Fatalf("unexpected a: -want/+got\n%s", diff)
	}
	if diff := cmp.Diff(itoml.Group{2, 3, 4, 5}, cfg.B); diff != "" {
		t.Fatalf("unexpected b: -want/+got\n%s", diff)
	}
	if diff := cmp.Diff(itoml.Group{7}, cfg.C); diff != "" {
		t.Fatalf("unexpected c: -want/+got\n%s", diff)
	}
}

func TestGroup_InvalidRange(t *testing.T) {
	var cfg struct {
		A itoml.Group `toml:"a"`
	}
	if _, err := toml.Decode(`a = "9-2"`, &cfg); err == nil {
		t.Fatal("expected error")
	}
}
