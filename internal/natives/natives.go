// Package natives is the host function registry: a fixed set of
// globals the VM preloads before user code runs, giving Lumen scripts
// access to I/O, timing, identifiers, string formatting, a local
// key-value store, and DynamoDB tables without any of that surfacing
// as new bytecode.
package natives

import (
	"bufio"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"lumen/internal/config"
	"lumen/internal/plugin"
	"lumen/internal/store"
	"lumen/internal/value"
	"lumen/internal/vm"
)

// Registry owns the mutable state behind the stateful natives: the
// open local store and any connected plugin-backed table clients.
type Registry struct {
	cfg     *config.Config
	st      *store.Store
	tables  map[string]*plugin.Client
	stdin   *bufio.Reader
	started time.Time
}

// Install preloads every native into machine's globals.
func Install(machine *vm.VM, cfg *config.Config, stdin *bufio.Reader) *Registry {
	r := &Registry{cfg: cfg, tables: map[string]*plugin.Client{}, stdin: stdin, started: time.Now()}

	machine.DefineGlobal("echo", value.NewNative("echo", -1, r.echo(machine)))
	machine.DefineGlobal("len", value.NewNative("len", 1, r.length))
	machine.DefineGlobal("scan", value.NewNative("scan", -1, r.readLine(machine)))
	machine.DefineGlobal("perf_counter", value.NewNative("perf_counter", 0, r.perfCounter))
	machine.DefineGlobal("uuid", value.NewNative("uuid", 0, r.newUUID))
	machine.DefineGlobal("humanize", value.NewNative("humanize", 1, r.humanizeBytes))
	machine.DefineGlobal("read_line", value.NewNative("read_line", -1, r.readLine(machine)))

	machine.DefineGlobal("store_open", value.NewNative("store_open", -1, r.storeOpen))
	machine.DefineGlobal("store_put", value.NewNative("store_put", 2, r.storePut))
	machine.DefineGlobal("store_get", value.NewNative("store_get", 1, r.storeGet))
	machine.DefineGlobal("store_close", value.NewNative("store_close", 0, r.storeClose))

	machine.DefineGlobal("table_connect", value.NewNative("table_connect", -1, r.tableConnect))
	machine.DefineGlobal("table_put", value.NewNative("table_put", 3, r.tablePut))
	machine.DefineGlobal("table_get", value.NewNative("table_get", 3, r.tableGet))
	machine.DefineGlobal("table_delete", value.NewNative("table_delete", 3, r.tableDelete))
	machine.DefineGlobal("table_scan", value.NewNative("table_scan", 2, r.tableScan))

	return r
}

func wrongArgType(fn string, index int, expected string, got value.Value) error {
	return fmt.Errorf("%s: argument %d must be %s, got %s", fn, index, expected, got.TypeName())
}

// echo writes every argument space-separated followed by a newline,
// the way the interactive REPL or a `print`-style builtin would.
func (r *Registry) echo(machine *vm.VM) value.NativeFunc {
	return func(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(machine.Stdout, " ")
			}
			fmt.Fprint(machine.Stdout, a.String())
		}
		fmt.Fprintln(machine.Stdout)
		return value.None(), nil
	}
}

func (r *Registry) length(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	switch args[0].Type {
	case value.VAL_LIST:
		return value.NewInt(int64(len(args[0].AsList().Elements))), nil
	case value.VAL_STRING:
		return value.NewInt(int64(len(args[0].AsString()))), nil
	default:
		return value.Value{}, wrongArgType("len", 0, "list or string", args[0])
	}
}

func (r *Registry) scan(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	line, err := r.stdin.ReadString('\n')
	if err != nil && line == "" {
		return value.None(), nil
	}
	return value.NewString(trimNewline(line)), nil
}

func (r *Registry) readLine(machine *vm.VM) value.NativeFunc {
	return func(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		prompt := ""
		if len(args) > 0 {
			if args[0].Type != value.VAL_STRING {
				return value.Value{}, wrongArgType("read_line", 0, "string", args[0])
			}
			prompt = args[0].AsString()
		}
		if prompt != "" && isatty.IsTerminal(fdOf(machine)) {
			fmt.Fprint(machine.Stdout, prompt)
		}
		line, err := r.stdin.ReadString('\n')
		if err != nil && line == "" {
			return value.None(), nil
		}
		return value.NewString(trimNewline(line)), nil
	}
}

// fdOf exists only so read_line's TTY check has something concrete to
// call; os.Stdout.Fd() is what callers actually want here.
func fdOf(machine *vm.VM) uintptr {
	type fder interface{ Fd() uintptr }
	if f, ok := machine.Stdout.(fder); ok {
		return f.Fd()
	}
	return 0
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

func (r *Registry) perfCounter(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	return value.NewFloat(time.Since(r.started).Seconds()), nil
}

func (r *Registry) newUUID(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	return value.NewString(uuid.New().String()), nil
}

func (r *Registry) humanizeBytes(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if args[0].Type != value.VAL_INT {
		return value.Value{}, wrongArgType("humanize", 0, "int", args[0])
	}
	return value.NewString(humanize.Bytes(uint64(args[0].AsInt))), nil
}

func (r *Registry) storeOpen(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	path := r.cfg.Store.Path
	if len(args) > 0 {
		if args[0].Type != value.VAL_STRING {
			return value.Value{}, wrongArgType("store_open", 0, "string", args[0])
		}
		path = args[0].AsString()
	}
	st, err := store.Open(path)
	if err != nil {
		return value.Value{}, err
	}
	if r.st != nil {
		r.st.Close()
	}
	r.st = st
	return value.NewBool(true), nil
}

func (r *Registry) storePut(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if r.st == nil {
		return value.Value{}, fmt.Errorf("store_put: no store open, call store_open first")
	}
	if args[0].Type != value.VAL_STRING {
		return value.Value{}, wrongArgType("store_put", 0, "string", args[0])
	}
	if err := r.st.Put(args[0].AsString(), args[1].String()); err != nil {
		return value.Value{}, err
	}
	return value.NewBool(true), nil
}

func (r *Registry) storeGet(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if r.st == nil {
		return value.Value{}, fmt.Errorf("store_get: no store open, call store_open first")
	}
	if args[0].Type != value.VAL_STRING {
		return value.Value{}, wrongArgType("store_get", 0, "string", args[0])
	}
	v, ok, err := r.st.Get(args[0].AsString())
	if err != nil {
		return value.Value{}, err
	}
	if !ok {
		return value.None(), nil
	}
	return value.NewString(v), nil
}

func (r *Registry) storeClose(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if r.st == nil {
		return value.NewBool(true), nil
	}
	err := r.st.Close()
	r.st = nil
	if err != nil {
		return value.Value{}, err
	}
	return value.NewBool(true), nil
}

func (r *Registry) pluginClient(tableArgName string) (*plugin.Client, error) {
	pc, ok := r.cfg.Plugins["dynamodb"]
	if !ok {
		return nil, fmt.Errorf("%s: no plugin configured for dynamodb in lumen.yaml", tableArgName)
	}
	return plugin.Load("dynamodb", pc.Executable)
}

func (r *Registry) tableConnect(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	client, err := r.pluginClient("table_connect")
	if err != nil {
		return value.Value{}, err
	}
	region := value.None()
	if v, ok := kwargs["region"]; ok {
		region = v
	} else if len(args) > 0 {
		region = args[0]
	}
	opts := map[string]value.Value{}
	if region.Type == value.VAL_STRING {
		opts["region"] = region
	}
	result, err := client.Call("connect", []value.Value{value.NewKwArgs(opts)})
	if err != nil {
		return value.Value{}, err
	}
	r.tables["dynamodb"] = client
	return result, nil
}

func (r *Registry) tablePut(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	client, err := r.pluginClient("table_put")
	if err != nil {
		return value.Value{}, err
	}
	if args[2].Type != value.VAL_KWARGS {
		return value.Value{}, wrongArgType("table_put", 2, "kwargs", args[2])
	}
	return client.Call("put_item", []value.Value{args[0], args[1], args[2]})
}

func (r *Registry) tableGet(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	client, err := r.pluginClient("table_get")
	if err != nil {
		return value.Value{}, err
	}
	if args[2].Type != value.VAL_KWARGS {
		return value.Value{}, wrongArgType("table_get", 2, "kwargs", args[2])
	}
	return client.Call("get_item", []value.Value{args[0], args[1], args[2]})
}

func (r *Registry) tableDelete(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	client, err := r.pluginClient("table_delete")
	if err != nil {
		return value.Value{}, err
	}
	if args[2].Type != value.VAL_KWARGS {
		return value.Value{}, wrongArgType("table_delete", 2, "kwargs", args[2])
	}
	return client.Call("delete_item", []value.Value{args[0], args[1], args[2]})
}

func (r *Registry) tableScan(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	client, err := r.pluginClient("table_scan")
	if err != nil {
		return value.Value{}, err
	}
	return client.Call("scan", []value.Value{args[0], args[1]})
}

func (r *Registry) Close() {
	if r.st != nil {
		r.st.Close()
	}
}
