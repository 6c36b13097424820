package term

import "fmt"

// Fun is an old-style `fun` term: a closure over free variables captured
// at the pid that created it.
type Fun struct {
	Pid     Pid
	Module  Atom
	Index   int32
	Uniq    int32
	Free    []Term
}

func (f Fun) Equal(other Term) bool {
	o, ok := other.(Fun)
	if !ok || !f.Pid.Equal(o.Pid) || f.Module != o.Module || f.Index != o.Index || f.Uniq != o.Uniq || len(f.Free) != len(o.Free) {
		return false
	}
	for i := range f.Free {
		if !f.Free[i].Equal(o.Free[i]) {
			return false
		}
	}
	return true
}

func (f Fun) Hash() uint32 {
	h := jenkinsMix(kindFun, byte(f.Index))
	h = jenkinsMix(h, byte(f.Uniq))
	return jenkinsFinish(h)
}

func (f Fun) String() string {
	return fmt.Sprintf("#Fun<%s.%d.%d>", f.Module, f.Index, f.Uniq)
}

// NewFun is the modern `new_fun` term: carries its own arity, uniq hash
// and old/new indices alongside the captured pid and free variables.
type NewFun struct {
	Arity     byte
	Uniq      [16]byte
	Index     int32
	Module    Atom
	OldIndex  int32
	OldUniq   int32
	Pid       Pid
	Free      []Term
}

func (f NewFun) Equal(other Term) bool {
	o, ok := other.(NewFun)
	if !ok || f.Arity != o.Arity || f.Uniq != o.Uniq || f.Module != o.Module || !f.Pid.Equal(o.Pid) || len(f.Free) != len(o.Free) {
		return false
	}
	for i := range f.Free {
		if !f.Free[i].Equal(o.Free[i]) {
			return false
		}
	}
	return true
}

func (f NewFun) Hash() uint32 {
	return hashBytes(kindFun, f.Uniq[:])
}

func (f NewFun) String() string {
	return fmt.Sprintf("#Fun<%s.%d.%x>", f.Module, f.Index, f.Uniq[:4])
}

// ExternalFun is the `export` term: module:function/arity, unbound.
type ExternalFun struct {
	Module   Atom
	Function Atom
	Arity    byte
}

func (f ExternalFun) Equal(other Term) bool {
	o, ok := other.(ExternalFun)
	return ok && f == o
}

func (f ExternalFun) Hash() uint32 {
	h := hashString(kindExternalFun, string(f.Module))
	h = jenkinsMix(h, byte(len(f.Function)))
	h = jenkinsMix(h, f.Arity)
	return jenkinsFinish(h)
}

func (f ExternalFun) String() string {
	return fmt.Sprintf("fun %s:%s/%d", f.Module, f.Function, f.Arity)
}
