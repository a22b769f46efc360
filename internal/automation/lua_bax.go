//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"bax-receiver/internal/bax"
)

const maxHandlersPerScript = 100

// registerBaxModule registers the `bax` global table in a Lua state.
func registerBaxModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int { return baxOn(L, vm) }))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int { return baxAfter(L, vm, e) }))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int { return baxLog(L, vm, e) }))
	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int { return baxDevices(L, e) }))
	mod.RawSetString("rename", L.NewFunction(func(L *lua.LState) int { return baxRename(L, vm, e) }))
	mod.RawSetString("last", L.NewFunction(func(L *lua.LState) int { return baxLast(L, e) }))
	L.SetGlobal("bax", mod)
}

// bax.on(event_type, [filter,] callback). The filter table may hold
// address and outcome.
func baxOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	if L.GetTop() >= 3 {
		filter := L.CheckTable(2)
		if v := filter.RawGetString("address"); v != lua.LNil {
			h.address = v.String()
		}
		if v := filter.RawGetString("outcome"); v != lua.LNil {
			h.outcome = v.String()
		}
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// bax.after(seconds, callback)
func baxAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "script", vm.id, "err", err)
			}
		}:
		default:
			e.logger.Warn("after: script queue full", "script", vm.id)
		}
	}()
	return 0
}

// bax.log(msg)
func baxLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logs != nil {
		vm.logs(msg)
	}
	e.logger.Info("script log", "script", vm.id, "msg", msg)
	return 0
}

// bax.devices() returns {address=, name=, readings=} for each device in
// the table.
func baxDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, dev := range e.rcv.Devices() {
		d := L.NewTable()
		d.RawSetString("address", lua.LString(dev.Address))
		d.RawSetString("name", lua.LString(dev.Name))
		d.RawSetString("readings", lua.LNumber(len(dev.History)))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// bax.last(address, [offset]) returns the remembered packet offset packets
// back, or nil. Sensor readings carry temperature, humidity and battery_mv.
func baxLast(L *lua.LState, e *Engine) int {
	addr, err := bax.ParseAddress(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	offset := L.OptInt(2, 0)

	rd, ok := e.rcv.Last(addr, offset)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	t.RawSetString("time", lua.LNumber(rd.Time.Unix()))
	t.RawSetString("rssi", lua.LNumber(rd.RSSI))
	t.RawSetString("type", lua.LString(rd.Type))
	if rd.Sensor != nil {
		t.RawSetString("temperature", lua.LNumber(*rd.Temperature))
		t.RawSetString("humidity", lua.LNumber(*rd.Humidity))
		t.RawSetString("battery_mv", lua.LNumber(rd.Sensor.BatteryMV))
	}
	L.Push(t)
	return 1
}

// bax.rename(address, name) returns true when the device was renamed.
func baxRename(L *lua.LState, vm *scriptVM, e *Engine) int {
	address := L.CheckString(1)
	name := L.CheckString(2)

	addr, err := bax.ParseAddress(address)
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	if vm.dryRun {
		if vm.logs != nil {
			vm.logs("rename " + bax.AddressString(addr) + " to " + name)
		}
		L.Push(lua.LTrue)
		return 1
	}
	if _, err := e.rcv.Rename(addr, name); err != nil {
		e.logger.Warn("script rename failed", "script", vm.id, "address", address, "err", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}
