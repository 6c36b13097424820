package term

import "fmt"

// Pid identifies a process: a node atom plus a 32-bit id/serial/creation
// triple. Legacy (pre-OTP-23) wire encoding masks id to 15 bits and
// serial to 13 bits; new_pid carries the full 32-bit width of each.
type Pid struct {
	Node     Atom
	Id       uint32
	Serial   uint32
	Creation uint32
}

func (p Pid) Equal(other Term) bool {
	o, ok := other.(Pid)
	return ok && p == o
}

func (p Pid) Hash() uint32 {
	h := hashString(kindPid, string(p.Node))
	h = jenkinsMix(h, byte(p.Id))
	h = jenkinsMix(h, byte(p.Id>>8))
	h = jenkinsMix(h, byte(p.Serial))
	h = jenkinsMix(h, byte(p.Creation))
	return jenkinsFinish(h)
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.Id, p.Serial)
}

// Port identifies a port: a node atom plus a 32-bit id and creation.
// Legacy wire encoding masks id to 28 bits.
type Port struct {
	Node     Atom
	Id       uint32
	Creation uint32
}

func (p Port) Equal(other Term) bool {
	o, ok := other.(Port)
	return ok && p == o
}

func (p Port) Hash() uint32 {
	h := hashString(kindPort, string(p.Node))
	h = jenkinsMix(h, byte(p.Id))
	h = jenkinsMix(h, byte(p.Creation))
	return jenkinsFinish(h)
}

func (p Port) String() string {
	return fmt.Sprintf("#Port<%s.%d>", p.Node, p.Id)
}

// Ref identifies a reference: a node atom, 1-3 32-bit words of id, and a
// creation. Legacy wire encoding gives the first word only 18 significant
// bits.
type Ref struct {
	Node     Atom
	Ids      []uint32
	Creation uint32
}

func (r Ref) Equal(other Term) bool {
	o, ok := other.(Ref)
	if !ok || r.Node != o.Node || r.Creation != o.Creation || len(r.Ids) != len(o.Ids) {
		return false
	}
	for i := range r.Ids {
		if r.Ids[i] != o.Ids[i] {
			return false
		}
	}
	return true
}

func (r Ref) Hash() uint32 {
	h := hashString(kindRef, string(r.Node))
	for _, id := range r.Ids {
		h = jenkinsMix(h, byte(id))
		h = jenkinsMix(h, byte(id>>8))
		h = jenkinsMix(h, byte(id>>16))
		h = jenkinsMix(h, byte(id>>24))
	}
	h = jenkinsMix(h, byte(r.Creation))
	return jenkinsFinish(h)
}

func (r Ref) String() string {
	return fmt.Sprintf("#Ref<%s.%v>", r.Node, r.Ids)
}
