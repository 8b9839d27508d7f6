package vm

import (
	"errors"
	"testing"

	"github.com/nethervm/nethervm/progs"
)

// fieldProgram declares origin (vector) and health (float) and a main that
// writes both on the edict in global "ent" through ADDRESS/STOREP and
// reads them back with LOAD.
type fieldProgram struct {
	b                *progs.Builder
	main             *progs.FuncBuilder
	ent, r, rv, ptr  int
	originF, healthF int
	originG, healthG int
}

func newFieldProgram() *fieldProgram {
	p := &fieldProgram{b: progs.NewBuilder()}
	b := p.b
	p.originF, p.originG = b.Field("origin", progs.TypeVector)
	p.healthF, p.healthG = b.Field("health", progs.TypeFloat)
	p.ent = b.Global("ent", progs.TypeEntity)
	val := b.Float("val", 75)
	vec := b.Vector("vec", 1, 2, 3)
	p.ptr = b.Global("ptr", progs.TypePointer)
	p.r = b.Float("r", 0)
	p.rv = b.Vector("rv", 0, 0, 0)

	p.main = b.Function("main", "t.qc", 0)
	emit(p.main, OpAddress, p.ent, p.healthG, p.ptr)
	emit(p.main, OpStorePF, val, p.ptr, 0)
	emit(p.main, OpLoadF, p.ent, p.healthG, p.r)
	emit(p.main, OpAddress, p.ent, p.originG, p.ptr)
	emit(p.main, OpStorePV, vec, p.ptr, 0)
	emit(p.main, OpLoadV, p.ent, p.originG, p.rv)
	emit(p.main, OpDone, 0, 0, 0)
	return p
}

func TestEdictStride(t *testing.T) {
	for _, tt := range []struct {
		fields, want int
	}{{0, 16}, {1, 16}, {2, 24}, {3, 24}, {4, 32}, {100, 416}} {
		if got := newEdictStore(tt.fields).stride; got != tt.want {
			t.Errorf("stride(%d fields) = %d, want %d", tt.fields, got, tt.want)
		}
	}
}

func TestAllocateEdicts(t *testing.T) {
	if err := New(Config{}).AllocateEdicts(4); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("unloaded: err = %v, want ErrNotLoaded", err)
	}

	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	if _, err := vm.EdictNum(0); !errors.Is(err, ErrNoEdicts) {
		t.Errorf("EdictNum before allocation: err = %v, want ErrNoEdicts", err)
	}
	if err := vm.AllocateEdicts(0); !errors.Is(err, ErrAllocation) {
		t.Errorf("AllocateEdicts(0) err = %v, want ErrAllocation", err)
	}
	if err := vm.AllocateEdicts(4); err != nil {
		t.Fatalf("AllocateEdicts failed: %v", err)
	}
	if vm.EdictStride() != 32 || vm.MaxEdicts() != 4 || vm.NumEdicts() != 1 {
		t.Errorf("stride %d, max %d, num %d", vm.EdictStride(), vm.MaxEdicts(), vm.NumEdicts())
	}
	if len(vm.Arena()) != 4*32 {
		t.Errorf("arena is %d bytes, want %d", len(vm.Arena()), 4*32)
	}
}

type failingAllocator struct{ tags []string }

func (a *failingAllocator) Alloc(size int, tag string) ([]byte, error) {
	a.tags = append(a.tags, tag)
	return nil, errors.New("out of memory")
}

type shortAllocator struct{}

func (shortAllocator) Alloc(size int, tag string) ([]byte, error) {
	return make([]byte, size/2), nil
}

func TestAllocatorFailures(t *testing.T) {
	p := newFieldProgram()
	fa := &failingAllocator{}
	vm, _ := newTestVMConfig(t, p.b, Config{Allocator: fa})
	if err := vm.AllocateEdicts(4); !errors.Is(err, ErrAllocation) {
		t.Errorf("err = %v, want ErrAllocation", err)
	}
	if len(fa.tags) != 1 || fa.tags[0] != "edicts" {
		t.Errorf("allocator tags = %v", fa.tags)
	}

	vm, _ = newTestVMConfig(t, newFieldProgram().b, Config{Allocator: shortAllocator{}})
	if err := vm.AllocateEdicts(4); !errors.Is(err, ErrAllocation) {
		t.Errorf("short buffer: err = %v, want ErrAllocation", err)
	}
}

func TestEdictNumAndIndex(t *testing.T) {
	vm, _ := newTestVM(t, newFieldProgram().b)
	if err := vm.AllocateEdicts(4); err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 4; n++ {
		e, err := vm.EdictNum(n)
		if err != nil {
			t.Fatalf("EdictNum(%d): %v", n, err)
		}
		if e.Ptr() != int32(n*32) {
			t.Errorf("EdictNum(%d).Ptr() = %d, want %d", n, e.Ptr(), n*32)
		}
		got, err := vm.EdictIndex(e.Ptr())
		if err != nil || got != n {
			t.Errorf("EdictIndex(%d) = %d, %v; want %d", e.Ptr(), got, err, n)
		}
	}
	for _, n := range []int{-1, 4, 100} {
		if _, err := vm.EdictNum(n); !errors.Is(err, ErrBadEdict) {
			t.Errorf("EdictNum(%d) err = %v, want ErrBadEdict", n, err)
		}
	}
	for _, ptr := range []int32{-32, 7, 33, 128, 1 << 20} {
		if _, err := vm.EdictIndex(ptr); !errors.Is(err, ErrBadEdict) {
			t.Errorf("EdictIndex(%d) err = %v, want ErrBadEdict", ptr, err)
		}
	}
}

func TestFieldOpcodes(t *testing.T) {
	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	if err := vm.AllocateEdicts(4); err != nil {
		t.Fatal(err)
	}
	e, _ := vm.EdictNum(2)
	vm.Globals().SetInt(p.ent, e.Ptr())

	mustExecute(t, vm, p.main.Index())
	g := vm.Globals()
	if got := e.Float(p.healthF); got != 75 {
		t.Errorf("health = %v, want 75", got)
	}
	if got := g.Float(p.r); got != 75 {
		t.Errorf("LOAD_F = %v, want 75", got)
	}
	if got := e.Vector(p.originF); got != (Vec3{1, 2, 3}) {
		t.Errorf("origin = %v, want (1 2 3)", got)
	}
	if got := g.Vector(p.rv); got != (Vec3{1, 2, 3}) {
		t.Errorf("LOAD_V = %v, want (1 2 3)", got)
	}
	// ADDRESS yields an arena byte offset: edict base + header + field.
	if got, want := g.Int(p.ptr), e.Ptr()+EdictHeaderSize+int32(p.originF*4); got != want {
		t.Errorf("ADDRESS = %d, want %d", got, want)
	}

	other, _ := vm.EdictNum(1)
	if other.Float(p.healthF) != 0 {
		t.Error("write leaked into edict 1")
	}
}

func TestFieldOpcodesRejectBadEntities(t *testing.T) {
	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	runtimeError(t, vm.Execute(p.main.Index()), ErrBadEdict)

	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	vm.Globals().SetInt(p.ent, 5)
	runtimeError(t, vm.Execute(p.main.Index()), ErrBadEdict)
}

func TestStorePOutsideArena(t *testing.T) {
	b := progs.NewBuilder()
	val := b.Float("val", 1)
	ptr := b.Int("ptr", 1<<20)
	main := b.Function("main", "t.qc", 0)
	emit(main, OpStorePF, val, ptr, 0)
	emit(main, OpDone, 0, 0, 0)
	vm, _ := newTestVM(t, b)
	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	runtimeError(t, vm.Execute(main.Index()), ErrMemoryAccess)
}

func TestEdictView(t *testing.T) {
	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	e, _ := vm.EdictNum(1)
	e.SetAlpha(200)
	e.SetSendInterval(3)
	e.SetOnLadder(1)
	e.SetFloat(p.healthF, 50)
	e.SetVector(p.originF, Vec3{4, 5, 6})
	e.SetHostData("leaf list")

	if e.Alpha() != 200 || e.SendInterval() != 3 || e.OnLadder() != 1 {
		t.Errorf("hint bytes = %d %d %d", e.Alpha(), e.SendInterval(), e.OnLadder())
	}
	if e.Float(p.healthF) != 50 || e.Vector(p.originF) != (Vec3{4, 5, 6}) {
		t.Errorf("fields = %v %v", e.Float(p.healthF), e.Vector(p.originF))
	}
	if e.HostData() != "leaf list" {
		t.Errorf("HostData = %v", e.HostData())
	}
	if e.Free() {
		t.Error("fresh edict is free")
	}
}

func TestSpawnReuseDelay(t *testing.T) {
	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	if err := vm.AllocateEdicts(8); err != nil {
		t.Fatal(err)
	}
	vm.SetTime(5)

	e1, err := vm.Spawn()
	if err != nil || e1.Index() != 1 {
		t.Fatalf("Spawn = %d, %v; want 1", e1.Index(), err)
	}
	e1.SetFloat(p.healthF, 10)
	e1.SetHostData("payload")
	if err := vm.Remove(e1); err != nil {
		t.Fatal(err)
	}
	if !e1.Free() || e1.FreeTime() != 5 || e1.HostData() != nil || e1.Float(p.healthF) != 0 {
		t.Errorf("removed edict: free %v at %v, host %v, health %v", e1.Free(), e1.FreeTime(), e1.HostData(), e1.Float(p.healthF))
	}

	e2, _ := vm.Spawn()
	if e2.Index() != 2 {
		t.Errorf("Spawn right after Remove = %d, want 2", e2.Index())
	}

	vm.SetTime(5.6)
	e3, _ := vm.Spawn()
	if e3.Index() != 1 {
		t.Errorf("Spawn after the delay = %d, want 1", e3.Index())
	}
	if e3.Free() {
		t.Error("reused edict is still marked free")
	}
}

func TestSpawnEarlyReuse(t *testing.T) {
	vm, _ := newTestVM(t, newFieldProgram().b)
	if err := vm.AllocateEdicts(8); err != nil {
		t.Fatal(err)
	}
	vm.SetTime(1)
	e, _ := vm.Spawn()
	if err := vm.Remove(e); err != nil {
		t.Fatal(err)
	}
	again, _ := vm.Spawn()
	if again.Index() != e.Index() {
		t.Errorf("Spawn = %d, want %d during the first two seconds", again.Index(), e.Index())
	}
}

func TestSpawnExhaustion(t *testing.T) {
	vm, _ := newTestVM(t, newFieldProgram().b)
	if err := vm.AllocateEdicts(3); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := vm.Spawn(); err != nil {
			t.Fatalf("Spawn %d: %v", i, err)
		}
	}
	if _, err := vm.Spawn(); !errors.Is(err, ErrNoFreeEdicts) {
		t.Errorf("err = %v, want ErrNoFreeEdicts", err)
	}
}

func TestReservedEdicts(t *testing.T) {
	vm, _ := newTestVM(t, newFieldProgram().b)
	vm.SetReservedEdicts(2)
	if err := vm.AllocateEdicts(8); err != nil {
		t.Fatal(err)
	}
	if vm.NumEdicts() != 3 {
		t.Errorf("NumEdicts = %d, want 3", vm.NumEdicts())
	}
	e, _ := vm.Spawn()
	if e.Index() != 3 {
		t.Errorf("Spawn = %d, want 3", e.Index())
	}

	client, _ := vm.EdictNum(1)
	if err := vm.Remove(client); err != nil {
		t.Fatal(err)
	}
	next, _ := vm.Spawn()
	if next.Index() == 1 {
		t.Error("Spawn reused a reserved edict")
	}
}

func TestRemoveWorld(t *testing.T) {
	vm, _ := newTestVM(t, newFieldProgram().b)
	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	world, _ := vm.EdictNum(0)
	if err := vm.Remove(world); !errors.Is(err, ErrBadEdict) {
		t.Errorf("err = %v, want ErrBadEdict", err)
	}
}

// ---------------------------------------------------------------------------
// STATE
// ---------------------------------------------------------------------------

func TestStateOpcode(t *testing.T) {
	b := progs.NewBuilder()
	self := b.Global("self", progs.TypeEntity)
	timeG := b.Float("time", 0)
	nextF, _ := b.Field("nextthink", progs.TypeFloat)
	frameF, _ := b.Field("frame", progs.TypeFloat)
	thinkF, _ := b.Field("think", progs.TypeFunction)
	frameVal := b.Float("fr", 4)

	think := b.Function("walk2", "t.qc", 0)
	emit(think, OpDone, 0, 0, 0)
	thinkG := b.FunctionGlobal("walk2", think.Index())

	main := b.Function("walk1", "t.qc", 0)
	emit(main, OpState, frameVal, thinkG, 0)
	emit(main, OpDone, 0, 0, 0)

	vm, _ := newTestVM(t, b)
	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	e, _ := vm.EdictNum(1)
	vm.Globals().SetInt(self, e.Ptr())
	var now float32 = 10
	vm.SetTime(now)
	if got := vm.Globals().Float(timeG); got != now {
		t.Errorf("time global = %v, want %v", got, now)
	}

	mustExecute(t, vm, main.Index())
	if got, want := e.Float(nextF), now+0.1; got != want {
		t.Errorf("nextthink = %v, want %v", got, want)
	}
	if got := e.Float(frameF); got != 4 {
		t.Errorf("frame = %v, want 4", got)
	}
	if got := e.Int(thinkF); got != int32(think.Index()) {
		t.Errorf("think = %d, want %d", got, think.Index())
	}
}

func TestStateWithoutFields(t *testing.T) {
	b := progs.NewBuilder()
	main := b.Function("main", "t.qc", 0)
	emit(main, OpState, 0, 0, 0)
	emit(main, OpDone, 0, 0, 0)
	vm, _ := newTestVM(t, b)
	runtimeError(t, vm.Execute(main.Index()), ErrNoStateFields)
}

func TestEdictHasField(t *testing.T) {
	p := newFieldProgram()
	vm, _ := newTestVM(t, p.b)
	if err := vm.AllocateEdicts(2); err != nil {
		t.Fatal(err)
	}
	e, _ := vm.EdictNum(1)
	for _, tt := range []struct {
		field, words int
		want         bool
	}{
		{p.originF, 3, true},
		{p.healthF, 1, true},
		{p.healthF, 3, false},
		{4, 1, false},
		{-1, 1, false},
		{0, 0, false},
	} {
		if got := e.HasField(tt.field, tt.words); got != tt.want {
			t.Errorf("HasField(%d, %d) = %v, want %v", tt.field, tt.words, got, tt.want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("Float on a field past the block did not panic")
		}
	}()
	e.Float(4)
}
