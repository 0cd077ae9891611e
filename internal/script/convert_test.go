package script

import (
	"reflect"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func TestToGo_Basics(t *testing.T) {
	d := starlark.NewDict(2)
	_ = d.SetKey(starlark.String("name"), starlark.String("wave"))
	_ = d.SetKey(starlark.String("count"), starlark.MakeInt(3))

	list := starlark.NewList([]starlark.Value{
		starlark.Bool(true),
		starlark.Float(1.5),
		starlark.None,
	})

	got, err := toGo(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{"name": "wave", "count": int64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("toGo(dict) = %v, want %v", got, want)
	}

	gotList, err := toGo(list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantList := []any{true, 1.5, nil}
	if !reflect.DeepEqual(gotList, wantList) {
		t.Errorf("toGo(list) = %v, want %v", gotList, wantList)
	}
}

func TestToGo_RejectsNonStringDictKeys(t *testing.T) {
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.MakeInt(1), starlark.String("x"))

	if _, err := toGo(d); err == nil {
		t.Error("toGo accepted an int dict key")
	}
}

func TestToGo_RejectsHugeInts(t *testing.T) {
	big := starlark.MakeUint64(^uint64(0)) // Exceeds int64.
	if _, err := toGo(big); err == nil {
		t.Error("toGo accepted an integer outside int64 range")
	}
}

func TestToStarlark_RoundTrip(t *testing.T) {
	in := map[string]any{
		"gesture": "thumbs_up",
		"fingers": int64(5),
		"conf":    0.93,
		"tags":    []any{"left", "right"},
		"nested":  map[string]any{"ok": true},
	}

	sv, err := toStarlark(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := toGo(sv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestToStarlark_Unsupported(t *testing.T) {
	_, err := toStarlark(struct{ X int }{1})
	if err == nil {
		t.Fatal("toStarlark accepted a struct")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("error = %q, want mention of unsupported", err)
	}
}
