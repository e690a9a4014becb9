package interp

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/resource"
)

// objectType tags script-visible opaque objects in the handle table.
const objectType resource.TypeID = 1

type object struct {
	name  string
	value any
}

// Drop runs when the last reference goes away or the interpreter closes.
func (o *object) Drop() {
	if d, ok := o.value.(resource.Dropper); ok {
		d.Drop()
	}
}

// objectLog reports object lifecycle at debug level.
type objectLog struct {
	interp uint64
}

func (l objectLog) OnResourceEvent(e resource.Event) {
	if e.TypeID != objectType || e.Type != resource.EventDropped {
		return
	}
	name := ""
	if obj, ok := e.Value.(*object); ok {
		name = obj.name
	}
	Logger().Debug("object dropped",
		diag.PriorityCleanup.Field(),
		zap.Uint64("interpreter", l.interp),
		zap.String("name", name))
}

// AddObject stores value as an opaque object and returns its script name,
// of the form "type#N". The object starts with one reference. Values
// implementing resource.Dropper are dropped with the object.
func (i *Interpreter) AddObject(value any) (string, error) {
	obj := &object{value: value}
	h := i.handles.Insert(objectType, obj)
	if h == 0 {
		return "", fmt.Errorf("object table is closed")
	}
	i.handles.AddRef(h)
	obj.name = typeName(value) + "#" + strconv.FormatUint(uint64(h), 10)

	Logger().Debug("object added",
		diag.PriorityMarshal.Field(),
		zap.Uint64("interpreter", i.id),
		zap.String("name", obj.name))
	return obj.name, nil
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", v), "*")
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name = name[dot+1:]
	}
	return name
}

func parseObjectName(name string) (resource.Handle, bool) {
	hash := strings.LastIndexByte(name, '#')
	if hash < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(name[hash+1:], 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return resource.Handle(n), true
}

func (i *Interpreter) lookupObject(name string) (resource.Handle, *object, bool) {
	h, ok := parseObjectName(name)
	if !ok {
		return 0, nil, false
	}
	v, ok := i.handles.GetTyped(h, objectType)
	if !ok {
		return 0, nil, false
	}
	obj := v.(*object)
	if obj.name != name {
		return 0, nil, false
	}
	return h, obj, true
}

// GetObject returns the value behind an object name.
func (i *Interpreter) GetObject(name string) (any, bool) {
	_, obj, ok := i.lookupObject(name)
	if !ok {
		return nil, false
	}
	return obj.value, true
}

// IsObject reports whether s names a live object.
func (i *Interpreter) IsObject(s string) bool {
	_, _, ok := i.lookupObject(s)
	return ok
}

// AddRef takes a reference on the named object.
func (i *Interpreter) AddRef(name string) bool {
	h, _, ok := i.lookupObject(name)
	if !ok {
		return false
	}
	return i.handles.AddRef(h)
}

// ReleaseObject drops a reference on the named object and reports whether
// the object was removed.
func (i *Interpreter) ReleaseObject(name string) bool {
	h, _, ok := i.lookupObject(name)
	if !ok {
		return false
	}
	removed, _ := i.handles.Release(h)
	return removed
}

// ObjectRefs returns the reference count of the named object.
func (i *Interpreter) ObjectRefs(name string) int32 {
	h, _, ok := i.lookupObject(name)
	if !ok {
		return 0
	}
	refs, _ := i.handles.Refs(h)
	return refs
}

// Objects returns the names of the live objects in handle order.
func (i *Interpreter) Objects() []string {
	names := make([]string, 0, i.handles.Len())
	i.handles.Each(func(_ resource.Handle, typeID resource.TypeID, v any) bool {
		if obj, ok := v.(*object); ok && typeID == objectType {
			names = append(names, obj.name)
		}
		return true
	})
	return names
}
