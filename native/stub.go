package native

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/script-core/engine"
	"github.com/wippyai/script-core/internal/wasmbuild"
)

// Layout of the stub library's linear memory.
const (
	StubTableGlobal = "script_stubs"
	StubTableOffset = 1024
	StubNamesOffset = 2048
	StubErrorLine   = 7
)

// StubOptions shape the library produced by Stub.
type StubOptions struct {
	// HostModule is the module exit_proc and Calls are imported from.
	// Empty means engine.DefaultHostModule.
	HostModule string
	// Omit leaves functions out of the library.
	Omit map[string]bool
	// WrongSignature exports one function with an extra i32 parameter.
	WrongSignature string
	// Table exports the functions under stub_ names and publishes them
	// through the address table.
	Table bool
	// TableSize overrides the declared table size. Zero means MinTableSize.
	TableSize uint32
	// Calls lists host functions without parameters or results that init
	// calls in order.
	Calls []string
}

func valTypes(ts []api.ValueType) []wasmbuild.ValType {
	out := make([]wasmbuild.ValType, len(ts))
	for i, t := range ts {
		out[i] = wasmbuild.ValType(t)
	}
	return out
}

// Stub encodes a minimal foreign library implementing every declared
// function. create_interp hands out increasing handles, init runs the
// configured host calls, create_exit_handler stores its token and
// finalize passes the stored token to exit_proc. Everything else returns
// zero.
func Stub(opts StubOptions) []byte {
	host := opts.HostModule
	if host == "" {
		host = engine.DefaultHostModule
	}

	m := wasmbuild.New()
	exitProc := m.ImportFunc(host, ExitProc, wasmbuild.FuncType{Params: []wasmbuild.ValType{wasmbuild.I32}})
	calls := make([]uint32, len(opts.Calls))
	for i, name := range opts.Calls {
		calls[i] = m.ImportFunc(host, name, wasmbuild.FuncType{})
	}
	m.Memory(1)
	counter := m.Global(wasmbuild.I32, true, 0)
	token := m.Global(wasmbuild.I32, true, 0)
	m.ExportGlobal(StubTableGlobal, m.Global(wasmbuild.I32, false, StubTableOffset))

	size := opts.TableSize
	if size == 0 {
		size = MinTableSize
	}
	table := binary.LittleEndian.AppendUint32(nil, size)
	var names []byte

	for _, sym := range symbols {
		if opts.Omit[sym.Name] {
			table = binary.LittleEndian.AppendUint32(table, 0)
			continue
		}
		ft := wasmbuild.FuncType{Params: valTypes(sym.CoreParams), Results: valTypes(sym.CoreResults)}
		if sym.Name == opts.WrongSignature {
			ft.Params = append(ft.Params, wasmbuild.I32)
		}

		var body wasmbuild.Code
		switch sym.Func {
		case CreateInterpFunc:
			body.GlobalGet(counter).I32Const(1).I32Add().GlobalSet(counter).GlobalGet(counter)
		case Init:
			for _, fn := range calls {
				body.Call(fn)
			}
			body.I32Const(0)
		case CreateExitHandler:
			body.LocalGet(0).GlobalSet(token)
		case DeleteExitHandler:
			body.I32Const(0).GlobalSet(token)
		case Finalize:
			body.GlobalGet(token).If().GlobalGet(token).Call(exitProc).End()
		case GetErrorLine:
			body.I32Const(StubErrorLine)
		default:
			for _, r := range ft.Results {
				body.Zero(r)
			}
		}
		idx := m.Func(ft, nil, body.Bytes())

		name := sym.Name
		if opts.Table {
			name = "stub_" + sym.Name
		}
		m.ExportFunc(name, idx)

		table = binary.LittleEndian.AppendUint32(table, uint32(StubNamesOffset+len(names)))
		names = append(names, name...)
		names = append(names, 0)
	}

	if opts.Table {
		m.Data(StubTableOffset, table)
		m.Data(StubNamesOffset, names)
	}
	return m.Encode()
}
