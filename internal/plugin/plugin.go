// Package plugin talks to an out-of-process native extension over a
// line-delimited JSON request/response protocol on the subprocess's
// stdin/stdout. It is the mechanism the dynamodb table_* natives use
// to reach AWS without linking the AWS SDK into every Lumen process.
package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"lumen/internal/value"
)

type Request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type Client struct {
	Name    string
	Cmd     *exec.Cmd
	Stdin   io.WriteCloser
	Stdout  *bufio.Scanner
	Running bool
	Lock    sync.Mutex
}

var (
	loaded     = make(map[string]*Client)
	loadedLock sync.Mutex
)

// Load starts (or reuses) the named plugin's subprocess. executableName
// is looked up on PATH first, then under ./lumen_libs/<name>/, then in
// the current directory.
func Load(name, executableName string) (*Client, error) {
	loadedLock.Lock()
	defer loadedLock.Unlock()

	if c, ok := loaded[name]; ok {
		return c, nil
	}

	execPath, err := resolveExecutable(name, executableName)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(execPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdin pipe: %w", name, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdout pipe: %w", name, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("plugin %s: start: %w", name, err)
	}

	client := &Client{
		Name:    name,
		Cmd:     cmd,
		Stdin:   stdin,
		Stdout:  bufio.NewScanner(stdoutPipe),
		Running: true,
	}
	loaded[name] = client
	return client, nil
}

func resolveExecutable(name, executableName string) (string, error) {
	if path, err := exec.LookPath(executableName); err == nil {
		return path, nil
	}
	libPath := filepath.Join("lumen_libs", name, executableName)
	if _, err := os.Stat(libPath); err == nil {
		return filepath.Abs(libPath)
	}
	if _, err := os.Stat(libPath + ".exe"); err == nil {
		return filepath.Abs(libPath + ".exe")
	}
	if _, err := os.Stat(executableName); err == nil {
		return filepath.Abs(executableName)
	}
	return "", fmt.Errorf("plugin %s: executable %q not found on PATH, in lumen_libs, or in the working directory", name, executableName)
}

// Call issues one request and blocks for the matching response. The
// client's mutex makes this safe to call from multiple natives
// sharing one subprocess, at the cost of serializing them.
func (c *Client) Call(method string, args []value.Value) (value.Value, error) {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	if !c.Running {
		return value.Value{}, fmt.Errorf("plugin %s is no longer running", c.Name)
	}

	params := make([]interface{}, len(args))
	for i, a := range args {
		params[i] = ValueToInterface(a)
	}

	reqBytes, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return value.Value{}, fmt.Errorf("plugin %s: marshal request: %w", c.Name, err)
	}

	if _, err := c.Stdin.Write(append(reqBytes, '\n')); err != nil {
		c.Running = false
		return value.Value{}, fmt.Errorf("plugin %s: write request: %w", c.Name, err)
	}

	if !c.Stdout.Scan() {
		c.Running = false
		if err := c.Stdout.Err(); err != nil {
			return value.Value{}, fmt.Errorf("plugin %s: read response: %w", c.Name, err)
		}
		return value.Value{}, fmt.Errorf("plugin %s: unexpected EOF", c.Name)
	}

	var resp Response
	if err := json.Unmarshal(c.Stdout.Bytes(), &resp); err != nil {
		return value.Value{}, fmt.Errorf("plugin %s: unmarshal response: %w", c.Name, err)
	}
	if resp.Error != "" {
		return value.Value{}, fmt.Errorf("plugin %s: %s", c.Name, resp.Error)
	}
	return InterfaceToValue(resp.Result), nil
}

// ValueToInterface bridges a Lumen value into a JSON-marshalable Go
// value for the wire protocol.
func ValueToInterface(v value.Value) interface{} {
	switch v.Type {
	case value.VAL_NONE:
		return nil
	case value.VAL_BOOL:
		return v.AsBool
	case value.VAL_INT:
		return v.AsInt
	case value.VAL_FLOAT:
		return v.AsFloat
	case value.VAL_STRING:
		return v.AsString()
	case value.VAL_LIST:
		elems := v.AsList().Elements
		arr := make([]interface{}, len(elems))
		for i, e := range elems {
			arr[i] = ValueToInterface(e)
		}
		return arr
	case value.VAL_KWARGS:
		m := make(map[string]interface{})
		for k, val := range v.AsKwArgs().Pairs {
			m[k] = ValueToInterface(val)
		}
		return m
	default:
		return fmt.Sprintf("%v", v)
	}
}

// InterfaceToValue is the inverse of ValueToInterface for decoded JSON.
func InterfaceToValue(i interface{}) value.Value {
	if i == nil {
		return value.None()
	}
	switch v := i.(type) {
	case bool:
		return value.NewBool(v)
	case float64:
		if float64(int64(v)) == v {
			return value.NewInt(int64(v))
		}
		return value.NewFloat(v)
	case string:
		return value.NewString(v)
	case []interface{}:
		arr := make([]value.Value, len(v))
		for i, e := range v {
			arr[i] = InterfaceToValue(e)
		}
		return value.NewList(arr)
	case map[string]interface{}:
		m := make(map[string]value.Value)
		for k, val := range v {
			m[k] = InterfaceToValue(val)
		}
		return value.NewKwArgs(m)
	default:
		return value.NewString(fmt.Sprintf("%v", v))
	}
}
