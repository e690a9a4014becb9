package wasmbuild

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	opIf        = 0x04
	opElse      = 0x05
	opEnd       = 0x0b
	opReturn    = 0x0f
	opCall      = 0x10
	opDrop      = 0x1a
	opLocalGet  = 0x20
	opLocalSet  = 0x21
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Load   = 0x28
	opI32Store  = 0x36
	opI32Const  = 0x41
	opI64Const  = 0x42
	opF32Const  = 0x43
	opF64Const  = 0x44
	opI32Eqz    = 0x45
	opI32Add    = 0x6a

	blockEmpty = 0x40
)

// Code assembles a function body. Bytes appends the final end opcode.
type Code struct {
	buf bytes.Buffer
}

func (c *Code) op(b byte) *Code {
	c.buf.WriteByte(b)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.buf.WriteByte(opI32Const)
	writeS32(&c.buf, v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf.WriteByte(opI64Const)
	writeS64(&c.buf, v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.buf.WriteByte(opF32Const)
	c.buf.Write(binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)))
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.buf.WriteByte(opF64Const)
	c.buf.Write(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))
	return c
}

// Zero pushes the zero value of t.
func (c *Code) Zero(t ValType) *Code {
	switch t {
	case I64:
		return c.I64Const(0)
	case F32:
		return c.F32Const(0)
	case F64:
		return c.F64Const(0)
	}
	return c.I32Const(0)
}

func (c *Code) LocalGet(i uint32) *Code {
	c.buf.WriteByte(opLocalGet)
	writeU32(&c.buf, i)
	return c
}

func (c *Code) LocalSet(i uint32) *Code {
	c.buf.WriteByte(opLocalSet)
	writeU32(&c.buf, i)
	return c
}

func (c *Code) GlobalGet(i uint32) *Code {
	c.buf.WriteByte(opGlobalGet)
	writeU32(&c.buf, i)
	return c
}

func (c *Code) GlobalSet(i uint32) *Code {
	c.buf.WriteByte(opGlobalSet)
	writeU32(&c.buf, i)
	return c
}

func (c *Code) Call(fn uint32) *Code {
	c.buf.WriteByte(opCall)
	writeU32(&c.buf, fn)
	return c
}

// I32Load loads from the address on the stack with a 4-byte alignment hint.
func (c *Code) I32Load(offset uint32) *Code {
	c.buf.WriteByte(opI32Load)
	writeU32(&c.buf, 2)
	writeU32(&c.buf, offset)
	return c
}

// I32Store stores the value on top of the stack at the address below it.
func (c *Code) I32Store(offset uint32) *Code {
	c.buf.WriteByte(opI32Store)
	writeU32(&c.buf, 2)
	writeU32(&c.buf, offset)
	return c
}

func (c *Code) I32Add() *Code { return c.op(opI32Add) }
func (c *Code) I32Eqz() *Code { return c.op(opI32Eqz) }
func (c *Code) Drop() *Code   { return c.op(opDrop) }
func (c *Code) Return() *Code { return c.op(opReturn) }

// If opens a block without results that runs when the i32 on the stack is
// non-zero.
func (c *Code) If() *Code {
	c.buf.WriteByte(opIf)
	c.buf.WriteByte(blockEmpty)
	return c
}

func (c *Code) Else() *Code { return c.op(opElse) }
func (c *Code) End() *Code  { return c.op(opEnd) }

// Bytes returns the body terminated by end.
func (c *Code) Bytes() []byte {
	out := append([]byte(nil), c.buf.Bytes()...)
	return append(out, opEnd)
}
