// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lua "github.com/yuin/gopher-lua"
)

// execContext carries everything one execution may touch. Each execution
// gets its own value and its own Lua state; nothing is shared across calls.
type execContext struct {
	client *Client
	call   *Call
	logs   *logPipeline
}

// runStage loads the workflow source into a fresh sandboxed interpreter,
// resolves the stage function by name and calls it with the decoded
// arguments. The kwargs table, when non-empty, is appended as the final
// argument.
func runStage(ctx context.Context, ec *execContext, source []byte) (json.RawMessage, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)
	openSafeLibraries(L)
	registerContextAPI(ctx, L, ec)
	if err := L.DoString(string(source)); err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", ec.call.WorkflowFile, err)
	}
	fn, ok := L.GetGlobal(ec.call.FunctionName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("stage function '%s' not defined in %s", ec.call.FunctionName, ec.call.WorkflowFile)
	}
	var args Arguments
	if len(ec.call.Arguments) != 0 {
		if err := json.Unmarshal(ec.call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	luaArgs := make([]lua.LValue, 0, len(args.Args)+1)
	for _, a := range args.Args {
		luaArgs = append(luaArgs, jsonToLua(L, a))
	}
	if len(args.Kwargs) != 0 {
		kwargs := make(map[string]any, len(args.Kwargs))
		for k, v := range args.Kwargs {
			kwargs[k] = v
		}
		luaArgs = append(luaArgs, jsonToLua(L, kwargs))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	buf, err := json.Marshal(luaToJSON(ret))
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return buf, nil
}

// openSafeLibraries loads the base libraries and strips everything that can
// reach the host: filesystem, process, module loading, metatable surgery.
func openSafeLibraries(L *lua.LState) {
	modules := []struct {
		n string
		f lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // Must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, pair := range modules {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.f),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.n)); err != nil {
			panic(err)
		}
	}
	for _, name := range []string{
		"dofile", "load", "loadfile", "loadstring", "require", "module",
		"collectgarbage", "rawget", "rawset", "rawequal", "setmetatable",
		"getmetatable", "_G", "os", "io", "debug", "package",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	if strMod, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strMod.RawSetString("dump", lua.LNil)
	}
	if mathMod, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		mathMod.RawSetString("randomseed", lua.LNil)
	}
}

// registerContextAPI installs the execution-context globals: read_file,
// write_file, call_stage, log, and a print that feeds the log pipeline.
func registerContextAPI(ctx context.Context, L *lua.LState, ec *execContext) {
	L.SetGlobal("read_file", L.NewFunction(func(l *lua.LState) int {
		path := l.CheckString(1)
		content, err := ec.client.FetchBlob(ctx, ec.call.RepoName, ec.call.CommitHash, path)
		if err != nil {
			l.RaiseError("read_file(%s): %v", path, err)
			return 0
		}
		l.Push(lua.LString(content))
		return 1
	}))
	L.SetGlobal("write_file", L.NewFunction(func(l *lua.LState) int {
		path := l.CheckString(1)
		content := l.CheckString(2)
		_, contentHash, err := ec.client.UploadFile(ctx, ec.call.InvocationID, path, []byte(content))
		if err != nil {
			l.RaiseError("write_file(%s): %v", path, err)
			return 0
		}
		l.Push(lua.LString(contentHash))
		return 1
	}))
	L.SetGlobal("call_stage", L.NewFunction(func(l *lua.LState) int {
		stage := l.CheckString(1)
		arguments := Arguments{}
		if tbl, ok := l.Get(2).(*lua.LTable); ok {
			if arr, ok := luaToJSON(tbl).([]any); ok {
				arguments.Args = arr
			}
		}
		if tbl, ok := l.Get(3).(*lua.LTable); ok {
			if m, ok := luaToJSON(tbl).(map[string]any); ok {
				arguments.Kwargs = m
			}
		}
		result, err := ec.callChild(ctx, stage, arguments)
		if err != nil {
			l.RaiseError("call_stage(%s): %v", stage, err)
			return 0
		}
		l.Push(jsonToLua(l, result))
		return 1
	}))
	logLine := func(l *lua.LState) int {
		parts := make([]string, 0, l.GetTop())
		for i := 1; i <= l.GetTop(); i++ {
			parts = append(parts, lua.LVAsString(l.ToStringMeta(l.Get(i))))
		}
		ec.logs.Write(strings.Join(parts, "\t"))
		return 0
	}
	L.SetGlobal("log", L.NewFunction(logLine))
	L.SetGlobal("print", L.NewFunction(logLine))
}

// callChild creates a nested invocation with this run as parent and blocks
// until it reaches a terminal status. The executing goroutine suspends here;
// the worker keeps serving other calls.
func (ec *execContext) callChild(ctx context.Context, stage string, arguments Arguments) (any, error) {
	id, err := ec.client.CreateCall(ctx, &NewCall{
		CallerID:     ec.call.InvocationID,
		FunctionName: stage,
		Arguments:    arguments,
		RepoName:     ec.call.RepoName,
		CommitHash:   ec.call.CommitHash,
		WorkflowFile: ec.call.WorkflowFile,
	})
	if err != nil {
		return nil, err
	}
	child, err := ec.waitForCall(ctx, id)
	if err != nil {
		return nil, err
	}
	if child.Status != "completed" {
		return nil, fmt.Errorf("child stage '%s' %s: %s", stage, child.Status, child.Error)
	}
	var result any
	if len(child.Result) != 0 {
		if err := json.Unmarshal(child.Result, &result); err != nil {
			return nil, fmt.Errorf("decode child result: %w", err)
		}
	}
	return result, nil
}

func (ec *execContext) waitForCall(ctx context.Context, id string) (*Call, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	for {
		call, err := ec.client.GetCall(ctx, id)
		if err == nil && call.Terminal() {
			return call, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func jsonToLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case json.Number:
		f, _ := v.Float64()
		return lua.LNumber(f)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for _, e := range v {
			tbl.Append(jsonToLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range v {
			tbl.RawSetString(k, jsonToLua(L, e))
		}
		return tbl
	}
	return lua.LString(fmt.Sprint(v))
}

// luaToJSON converts a Lua value to a JSON-serialisable Go value. Tables
// with dense 1..n integer keys become arrays; everything else becomes an
// object keyed by the stringified keys.
func luaToJSON(v lua.LValue) any {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToJSON(v.RawGetInt(i)))
			}
			return arr
		}
		m := map[string]any{}
		v.ForEach(func(k, val lua.LValue) {
			m[k.String()] = luaToJSON(val)
		})
		return m
	}
	if v == nil {
		return nil
	}
	return v.String()
}
