package identity

import "testing"

func TestNextPidMonotonic(t *testing.T) {
	g := NewGenerators("a@b", 1)
	p1 := g.NextPid()
	p2 := g.NextPid()
	if p2.Id != p1.Id+1 || p2.Serial != p1.Serial {
		t.Fatalf("expected id to increment with stable serial, got %+v -> %+v", p1, p2)
	}
}

func TestNextPidOverflowCarriesIntoSerial(t *testing.T) {
	g := NewGenerators("a@b", 1)
	g.pidId = 1<<pidIdBits - 1
	p := g.NextPid()
	if p.Id != 0 || p.Serial != 1 {
		t.Fatalf("expected id to wrap to 0 and serial to bump to 1, got %+v", p)
	}
}

func TestNextPidSerialAlsoWraps(t *testing.T) {
	g := NewGenerators("a@b", 1)
	g.pidId = 1<<pidIdBits - 1
	g.pidSerial = 1<<pidSerialBits - 1
	p := g.NextPid()
	if p.Id != 0 || p.Serial != 0 {
		t.Fatalf("expected both id and serial to wrap to 0, got %+v", p)
	}
}

func TestNextPortOverflowWraps(t *testing.T) {
	g := NewGenerators("a@b", 1)
	g.portId = 1<<portIdBits - 1
	p := g.NextPort()
	if p.Id != 0 {
		t.Fatalf("expected port id to wrap to 0, got %+v", p)
	}
}

func TestNextRefCarriesThroughWords(t *testing.T) {
	g := NewGenerators("a@b", 1)
	g.refIds[0] = 1<<refFirstBits - 1
	r := g.NextRef()
	if r.Ids[0] != 0 || r.Ids[1] != 1 {
		t.Fatalf("expected first word to wrap and second to bump, got %+v", r.Ids)
	}
}

func TestNextRefSecondWordCarriesIntoThird(t *testing.T) {
	g := NewGenerators("a@b", 1)
	g.refIds[0] = 1<<refFirstBits - 1
	g.refIds[1] = 1<<32 - 1
	r := g.NextRef()
	if r.Ids[0] != 0 || r.Ids[1] != 0 || r.Ids[2] != 1 {
		t.Fatalf("expected carry through to third word, got %+v", r.Ids)
	}
}

func TestGeneratorsAreDistinctAcrossCalls(t *testing.T) {
	g := NewGenerators("a@b", 1)
	seen := map[uint32]bool{}
	for i := 0; i < 1000; i++ {
		p := g.NextPid()
		key := p.Id<<13 | p.Serial
		if seen[key] {
			t.Fatalf("pid id/serial pair reused at iteration %d", i)
		}
		seen[key] = true
	}
}
