//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/receiver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type rename struct {
	addr uint32
	name string
}

type fakeReceiver struct {
	bus     *receiver.EventBus
	renames chan rename
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{bus: receiver.NewEventBus(testLogger()), renames: make(chan rename, 8)}
}

func (f *fakeReceiver) Events() *receiver.EventBus { return f.bus }

func (f *fakeReceiver) Devices() []receiver.Device {
	return []receiver.Device{
		{Address: "00A1B2C3", Name: "kitchen", History: make([]receiver.Reading, 2)},
		{Address: "0000BEEF"},
	}
}

func (f *fakeReceiver) Rename(addr uint32, name string) (receiver.Device, error) {
	f.renames <- rename{addr, name}
	return receiver.Device{Address: bax.AddressString(addr), Name: name}, nil
}

func (f *fakeReceiver) Last(addr uint32, offset int) (receiver.Reading, bool) {
	if addr != 0x00A1B2C3 || offset != 0 {
		return receiver.Reading{}, false
	}
	temp, hum := 21.5, 40.0
	return receiver.Reading{
		Time:        time.Unix(1700000000, 0),
		RSSI:        -60,
		Type:        "sensor",
		Sensor:      &bax.Sensor{BatteryMV: 2900},
		Temperature: &temp,
		Humidity:    &hum,
	}, true
}

func packetEvent(addr, outcome string, temp float64) receiver.Event {
	return receiver.Event{Type: receiver.EventPacket, Data: receiver.PacketEvent{
		Address:  addr,
		Type:     int8(bax.TypeSensor),
		TypeName: "sensor",
		Outcome:  outcome,
		Temp:     &temp,
	}}
}

func TestMatchesHandler(t *testing.T) {
	data := map[string]any{"address": "00A1B2C3", "outcome": "decrypted"}
	tests := []struct {
		name    string
		handler luaEventHandler
		evType  string
		want    bool
	}{
		{"no filters", luaEventHandler{eventType: "packet"}, "packet", true},
		{"wrong event type", luaEventHandler{eventType: "packet"}, "radio_state", false},
		{"address match", luaEventHandler{eventType: "packet", address: "00a1b2c3"}, "packet", true},
		{"address mismatch", luaEventHandler{eventType: "packet", address: "0000BEEF"}, "packet", false},
		{"outcome match", luaEventHandler{eventType: "packet", outcome: "decrypted"}, "packet", true},
		{"outcome mismatch", luaEventHandler{eventType: "packet", outcome: "key"}, "packet", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.evType, data); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventData(t *testing.T) {
	data := eventData(packetEvent("00A1B2C3", "decrypted", 21.5))
	if data["address"] != "00A1B2C3" || data["temperature"] != 21.5 || data["type"] != float64(bax.TypeSensor) {
		t.Errorf("packet data = %v", data)
	}
	if _, ok := data["humidity"]; ok {
		t.Error("nil humidity should be omitted")
	}

	radio := eventData(receiver.Event{Type: receiver.EventRadioState, Data: "hw_error"})
	if radio["value"] != "hw_error" {
		t.Errorf("radio data = %v", radio)
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]any{"a": 1.0}, lua.LTTable},
		{"slice", []any{1.0, 2.0}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestRunLuaCode(t *testing.T) {
	e := NewEngine(newFakeReceiver(), nil, testLogger())

	code := `
bax.on("packet", {outcome = "decrypted"}, function(ev)
  if ev.temperature > 20 then
    bax.log(ev.event .. " " .. ev.address .. " warm")
    bax.rename(ev.address, "warm room")
  end
end)
bax.on("radio_state", function(ev) bax.log("radio") end)
bax.log(#bax.devices() .. " devices")
`
	res := e.RunLuaCode(code, packetEvent("00A1B2C3", "decrypted", 22))
	if !res.OK {
		t.Fatalf("RunLuaCode failed: %s", res.Error)
	}
	if res.Handlers != 1 {
		t.Errorf("handlers called = %d, want 1", res.Handlers)
	}
	want := []string{"2 devices", "packet 00A1B2C3 warm", "rename 00A1B2C3 to warm room"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %q, want %q", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("log %d = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestRunLuaCodeLast(t *testing.T) {
	e := NewEngine(newFakeReceiver(), nil, testLogger())

	code := `
local r = bax.last("00a1b2c3")
bax.log(r.type .. " " .. r.temperature .. " " .. r.battery_mv .. " " .. r.time)
if bax.last("00A1B2C3", 1) == nil then bax.log("no older") end
if bax.last("0000BEEF") == nil then bax.log("unknown") end
`
	res := e.RunLuaCode(code, packetEvent("00A1B2C3", "decrypted", 22))
	if !res.OK {
		t.Fatalf("RunLuaCode failed: %s", res.Error)
	}
	want := []string{"sensor 21.5 2900 1700000000", "no older", "unknown"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %q, want %q", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("log %d = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e := NewEngine(newFakeReceiver(), nil, testLogger())

	tests := []struct {
		name string
		code string
	}{
		{"syntax", `bax.on(`},
		{"sandboxed os", `os.exit(1)`},
		{"bad address", `bax.rename("xyz", "n")`},
		{"bad last address", `bax.last("xyz")`},
		{"handler error", `bax.on("packet", function(ev) error("boom") end)`},
		{"timeout", `while true do end`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RunLuaCode(tt.code, packetEvent("00A1B2C3", "decrypted", 1))
			if res.OK || res.Error == "" {
				t.Errorf("RunLuaCode(%q) = %+v, want error", tt.code, res)
			}
		})
	}
}

func TestEngineDispatch(t *testing.T) {
	rcv := newFakeReceiver()
	mgr := newTestManager(t)
	scripts := []*Script{
		{
			Meta: ScriptMeta{Name: "Name warm rooms", Enabled: true},
			LuaCode: `bax.on("packet", {address = "00A1B2C3"}, function(ev)
  bax.rename(ev.address, "t=" .. ev.temperature)
end)`,
		},
		{
			Meta:    ScriptMeta{Name: "Disabled", Enabled: false},
			LuaCode: `bax.on("packet", function(ev) bax.rename(ev.address, "disabled") end)`,
		},
	}
	for _, s := range scripts {
		if _, err := mgr.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(rcv, mgr, testLogger())
	e.Start()
	defer e.Stop()

	if ids := e.Running(); len(ids) != 1 || ids[0] != "name_warm_rooms" {
		t.Fatalf("running = %v, want [name_warm_rooms]", ids)
	}

	rcv.bus.Emit(packetEvent("0000BEEF", "decrypted", 5))
	rcv.bus.Emit(packetEvent("00A1B2C3", "decrypted", 19.5))

	select {
	case got := <-rcv.renames:
		if got.addr != 0x00A1B2C3 || got.name != "t=19.5" {
			t.Errorf("rename = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for script rename")
	}
	select {
	case got := <-rcv.renames:
		t.Errorf("unexpected rename %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineReloadScript(t *testing.T) {
	rcv := newFakeReceiver()
	mgr := newTestManager(t)
	s, err := mgr.Save(&Script{Meta: ScriptMeta{Name: "toggle", Enabled: true}, LuaCode: `bax.log("hi")`})
	if err != nil {
		t.Fatal(err)
	}

	e := NewEngine(rcv, mgr, testLogger())
	e.Start()
	defer e.Stop()

	s.Meta.Enabled = false
	if _, err := mgr.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if ids := e.Running(); len(ids) != 0 {
		t.Errorf("running after disable = %v", ids)
	}

	s.Meta.Enabled = true
	s.LuaCode = `bax.on(`
	if _, err := mgr.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err == nil {
		t.Error("reload of broken script should fail")
	}
	if err := e.ReloadScript("missing"); err == nil {
		t.Error("reload of missing script should fail")
	}
}

func TestSystemModule(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	at := time.Date(2026, 1, 2, 23, 30, 0, 0, time.UTC)
	L.SetGlobal("between", L.NewFunction(func(L *lua.LState) int { return systemTimeBetween(L, at) }))
	L.SetGlobal("dt", L.NewFunction(func(L *lua.LState) int { return systemDatetime(L, at) }))

	var mu sync.Mutex
	results := map[string]lua.LValue{}
	L.SetGlobal("record", L.NewFunction(func(L *lua.LState) int {
		mu.Lock()
		results[L.CheckString(1)] = L.Get(2)
		mu.Unlock()
		return 0
	}))

	code := `
record("night", between(22, 6))
record("day", between(8, 22))
record("hour", dt("hour"))
record("date", dt("date_str"))
`
	if err := L.DoString(code); err != nil {
		t.Fatal(err)
	}
	want := map[string]lua.LValue{
		"night": lua.LTrue,
		"day":   lua.LFalse,
		"hour":  lua.LNumber(23),
		"date":  lua.LString("2026-01-02"),
	}
	for k, v := range want {
		if results[k] != v {
			t.Errorf("%s = %v, want %v", k, results[k], v)
		}
	}
	if err := L.DoString(`dt("fortnight")`); err == nil {
		t.Error("unknown component should raise")
	}
}
