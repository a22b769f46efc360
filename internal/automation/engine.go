//go:build !no_automation

// Package automation runs user Lua scripts against receiver events. A
// script registers callbacks with bax.on and may rename devices or log.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"bax-receiver/internal/receiver"
)

const (
	vmQueue    = 64
	runTimeout = 5 * time.Second
)

// Receiver is the part of the pipeline scripts can see and act on.
type Receiver interface {
	Events() *receiver.EventBus
	Devices() []receiver.Device
	Rename(address uint32, name string) (receiver.Device, error)
	Last(address uint32, offset int) (receiver.Reading, bool)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Handlers int      `json:"handlers"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a callback registered with bax.on.
type luaEventHandler struct {
	eventType string
	address   string // only match this device (empty = any)
	outcome   string // only match this codec outcome (empty = any)
	fn        *lua.LFunction
}

// scriptVM is one Lua state. All access to it goes through commands.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// dryRun turns actions into log lines.
	dryRun bool
	logs   func(string)
}

// Engine manages Lua VMs and dispatches receiver events to scripts.
type Engine struct {
	rcv     Receiver
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(rcv Receiver, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		rcv:     rcv,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.rcv.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// ReloadScript stops the running VM of a script and starts it again from
// disk, unless it has been disabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// Running lists the IDs of the loaded scripts.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// newVM creates a sandboxed Lua state with the bax and system modules.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), vmQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerBaxModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

// RunLuaCode executes code in a throwaway VM without touching the
// receiver: bax.rename is only logged. Every handler the code registers
// for sample.Type is then called once with sample.
func (e *Engine) RunLuaCode(code string, sample receiver.Event) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel, "run")
	defer vm.state.Close()
	vm.state.SetContext(ctx)
	vm.dryRun = true

	res := &RunResult{Logs: []string{}}
	vm.logs = func(msg string) { res.Logs = append(res.Logs, msg) }
	fail := func(err error) *RunResult {
		res.Error = err.Error()
		if strings.Contains(res.Error, "context deadline exceeded") {
			res.Error = "timeout (" + runTimeout.String() + ")"
		}
		res.Duration = time.Since(start).String()
		return res
	}

	if err := vm.state.DoString(code); err != nil {
		return fail(err)
	}

	data := eventData(sample)
	for _, h := range vm.handlers {
		if !matchesHandler(h, sample.Type, data) {
			continue
		}
		res.Handlers++
		if err := vm.state.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, eventTable(vm.state, sample, data)); err != nil {
			return fail(err)
		}
	}
	res.OK = true
	res.Duration = time.Since(start).String()
	return res
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel, s.ID)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", len(vm.handlers))
	return nil
}

// dispatchEvent queues ev on every VM with a matching handler. It never
// blocks the event bus; events for a VM with a full queue are dropped.
func (e *Engine) dispatchEvent(ev receiver.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()
	if len(vms) == 0 {
		return
	}

	data := eventData(ev)
	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, ev.Type, data) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, vm, fn, ev, data) }:
			default:
				e.logger.Warn("script queue full, dropping event", "script", vm.id, "type", ev.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, eventType string, data map[string]any) bool {
	if h.eventType != eventType {
		return false
	}
	if h.address != "" {
		if addr, _ := data["address"].(string); !strings.EqualFold(addr, h.address) {
			return false
		}
	}
	if h.outcome != "" {
		if outcome, _ := data["outcome"].(string); outcome != h.outcome {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, vm *scriptVM, fn *lua.LFunction, ev receiver.Event, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "script", vm.id, "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, ev, data)); err != nil {
		e.logger.Error("lua handler error", "script", vm.id, "err", err)
	}
}

// eventData flattens an event payload into the JSON field names scripts
// see. Non-object payloads, like the radio state, end up under "value".
func eventData(ev receiver.Event) map[string]any {
	b, err := json.Marshal(ev.Data)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		var v any
		_ = json.Unmarshal(b, &v)
		return map[string]any{"value": v}
	}
	return m
}

// eventTable builds the table passed to handlers. The event type is
// stored under "event" since packet events have their own "type" field.
func eventTable(L *lua.LState, ev receiver.Event, data map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range data {
		t.RawSetString(k, goToLua(L, v))
	}
	t.RawSetString("event", lua.LString(ev.Type))
	return t
}

// goToLua converts a decoded JSON value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
