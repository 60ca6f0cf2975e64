package natives

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"lumen/internal/config"
	"lumen/internal/value"
	"lumen/internal/vm"
)

func newTestVM(stdin string) (*vm.VM, *Registry, *bytes.Buffer) {
	machine := vm.New()
	out := &bytes.Buffer{}
	machine.Stdout = out
	reg := Install(machine, config.Default(), bufio.NewReader(strings.NewReader(stdin)))
	return machine, reg, out
}

func callGlobal(t *testing.T, machine *vm.VM, name string, args ...value.Value) value.Value {
	t.Helper()
	fn, ok := lookupGlobal(machine, name)
	if !ok {
		t.Fatalf("native %q was not installed", name)
	}
	result, err := fn.Native(args, nil)
	if err != nil {
		t.Fatalf("%s: %s", name, err)
	}
	return result
}

// lookupGlobal reaches into the VM the same way OP_GET_GLOBAL would,
// without needing a full compile-and-run round trip for each native.
func lookupGlobal(machine *vm.VM, name string) (*value.ObjFunction, bool) {
	v, ok := machine.Globals()[name]
	if !ok || v.Type != value.VAL_FUNCTION {
		return nil, false
	}
	return v.AsFunction(), true
}

func TestLenOnListAndString(t *testing.T) {
	machine, _, _ := newTestVM("")
	got := callGlobal(t, machine, "len", value.NewList([]value.Value{value.NewInt(1), value.NewInt(2)}))
	if got.AsInt != 2 {
		t.Errorf("len(list) = %d, want 2", got.AsInt)
	}
	got = callGlobal(t, machine, "len", value.NewString("abc"))
	if got.AsInt != 3 {
		t.Errorf("len(string) = %d, want 3", got.AsInt)
	}
}

func TestLenRejectsWrongType(t *testing.T) {
	machine, _, _ := newTestVM("")
	fn, _ := lookupGlobal(machine, "len")
	if _, err := fn.Native([]value.Value{value.NewInt(1)}, nil); err == nil {
		t.Fatal("expected an error for len(int)")
	}
}

func TestUUIDProducesDistinctValues(t *testing.T) {
	machine, _, _ := newTestVM("")
	a := callGlobal(t, machine, "uuid")
	b := callGlobal(t, machine, "uuid")
	if a.AsString() == b.AsString() {
		t.Error("expected two calls to uuid() to produce distinct ids")
	}
}

func TestHumanizeBytes(t *testing.T) {
	machine, _, _ := newTestVM("")
	got := callGlobal(t, machine, "humanize", value.NewInt(1_000_000))
	if got.AsString() == "" {
		t.Error("expected a non-empty humanized size")
	}
}

func TestEchoWritesToStdout(t *testing.T) {
	machine, _, out := newTestVM("")
	callGlobal(t, machine, "echo", value.NewString("hi"), value.NewInt(1))
	if got := out.String(); got != "hi 1\n" {
		t.Errorf("echo output = %q, want %q", got, "hi 1\n")
	}
}

func TestScanReadsOneLine(t *testing.T) {
	machine, _, _ := newTestVM("first\nsecond\n")
	got := callGlobal(t, machine, "scan")
	if got.AsString() != "first" {
		t.Errorf("scan() = %q, want %q", got.AsString(), "first")
	}
}

func TestStoreOpenPutGetClose(t *testing.T) {
	machine, _, _ := newTestVM("")
	if got := callGlobal(t, machine, "store_open"); !got.AsBool {
		t.Fatal("store_open should return true")
	}
	if got := callGlobal(t, machine, "store_put", value.NewString("k"), value.NewString("v")); !got.AsBool {
		t.Fatal("store_put should return true")
	}
	got := callGlobal(t, machine, "store_get", value.NewString("k"))
	if got.Type != value.VAL_STRING || got.AsString() != "v" {
		t.Errorf("store_get = %+v, want string \"v\"", got)
	}
	if got := callGlobal(t, machine, "store_close"); !got.AsBool {
		t.Fatal("store_close should return true")
	}
}

func TestStoreGetBeforeOpenErrors(t *testing.T) {
	machine, _, _ := newTestVM("")
	fn, _ := lookupGlobal(machine, "store_get")
	if _, err := fn.Native([]value.Value{value.NewString("k")}, nil); err == nil {
		t.Fatal("expected an error calling store_get before store_open")
	}
}
