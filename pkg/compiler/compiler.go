// Package compiler turns Lua 5.1 source text directly into a *vm.Proto
// tree: a single-pass recursive-descent parser whose grammar productions
// emit bytecode as they go, in the spirit of the reference Lua compiler,
// rather than building and then lowering a separate AST.
package compiler

import (
	"fmt"

	"lumen/pkg/errors"
	"lumen/pkg/lexer"
	"lumen/pkg/source"
	"lumen/pkg/vm"
)

// bailout is the internal control-flow signal a parse error raises; it is
// only ever caught inside Compile, so it never crosses this package's
// public API as a panic (the same pattern go/parser uses internally).
type bailout struct{ err *errors.CompileError }

// localVar binds a name to the register holding it for as long as it is
// in scope.
type localVar struct {
	name string
	reg  int
}

// funcState is the compiler's per-function mutable context: the prototype
// being built, its active locals, the free-register high-water mark,
// pending upvalues, and break-jump patch lists for the loop nest.
type funcState struct {
	parent *funcState
	proto  *vm.Proto

	locals  []localVar
	blocks  []int // locals length at each open block's entry, for scope exit
	freeReg int

	constIndex map[interface{}]int

	breakJumps [][]int // one slice of pending JMP pcs per enclosing loop

	upvalNames map[string]int
}

func newFuncState(parent *funcState, proto *vm.Proto) *funcState {
	return &funcState{parent: parent, proto: proto, constIndex: map[interface{}]int{}, upvalNames: map[string]int{}}
}

func (fs *funcState) emit(i vm.Instruction, line int) int {
	fs.proto.Code = append(fs.proto.Code, i)
	fs.proto.Lines = append(fs.proto.Lines, line)
	return len(fs.proto.Code) - 1
}

func (fs *funcState) emitABC(op vm.OpCode, a, b, c, line int) int {
	return fs.emit(vm.NewABC(op, a, b, c), line)
}
func (fs *funcState) emitABx(op vm.OpCode, a, bx, line int) int {
	return fs.emit(vm.NewABx(op, a, bx), line)
}
func (fs *funcState) emitAsBx(op vm.OpCode, a, sbx, line int) int {
	return fs.emit(vm.NewAsBx(op, a, sbx), line)
}

// patchJumpHere patches the sBx field of the JMP (or JMP-shaped) at pc so
// it lands on the next instruction to be emitted.
func (fs *funcState) patchJumpHere(pc int) {
	fs.patchJumpTo(pc, len(fs.proto.Code))
}

func (fs *funcState) patchJumpTo(pc, target int) {
	i := fs.proto.Code[pc]
	fs.proto.Code[pc] = vm.NewAsBx(i.OpCode(), i.A(), target-(pc+1))
}

// reserve bumps the free-register watermark by n, tracking the
// prototype's maximum stack size.
func (fs *funcState) reserve(n int) int {
	base := fs.freeReg
	fs.freeReg += n
	if fs.freeReg > fs.proto.MaxStackSize {
		fs.proto.MaxStackSize = fs.freeReg
	}
	return base
}

func (fs *funcState) freeTo(reg int) { fs.freeReg = reg }

// localTop returns the register just past the last active local, i.e. the
// lowest register a new temporary may safely claim.
func (fs *funcState) localTop() int {
	if len(fs.locals) == 0 {
		return 0
	}
	return fs.locals[len(fs.locals)-1].reg + 1
}

func (fs *funcState) enterBlock() { fs.blocks = append(fs.blocks, len(fs.locals)) }

func (fs *funcState) leaveBlock() {
	n := fs.blocks[len(fs.blocks)-1]
	fs.blocks = fs.blocks[:len(fs.blocks)-1]
	if n < len(fs.locals) {
		fs.freeTo(fs.locals[n].reg)
	}
	fs.locals = fs.locals[:n]
}

func (fs *funcState) declareLocal(name string) int {
	reg := fs.reserve(1)
	fs.locals = append(fs.locals, localVar{name: name, reg: reg})
	return reg
}

func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return fs.locals[i].reg, true
		}
	}
	return 0, false
}

// resolveUpvalue finds or creates an upvalue named name by searching the
// enclosing function's locals (IsLocal) and, failing that, its own
// upvalues (chained, !IsLocal), recursively up the funcState chain.
func (fs *funcState) resolveUpvalue(name string) (int, bool) {
	if fs.parent == nil {
		return 0, false
	}
	if idx, ok := fs.upvalNames[name]; ok {
		return idx, true
	}
	if reg, ok := fs.parent.resolveLocal(name); ok {
		idx := len(fs.proto.Upvalues)
		fs.proto.Upvalues = append(fs.proto.Upvalues, vm.UpvalueDesc{IsLocal: true, Index: reg, Name: name})
		fs.upvalNames[name] = idx
		fs.proto.NumUpvalues = len(fs.proto.Upvalues)
		return idx, true
	}
	if pidx, ok := fs.parent.resolveUpvalue(name); ok {
		idx := len(fs.proto.Upvalues)
		fs.proto.Upvalues = append(fs.proto.Upvalues, vm.UpvalueDesc{IsLocal: false, Index: pidx, Name: name})
		fs.upvalNames[name] = idx
		fs.proto.NumUpvalues = len(fs.proto.Upvalues)
		return idx, true
	}
	return 0, false
}

// constant interns v into the prototype's constant pool, deduplicating by
// Go-native key so equal literals share one slot.
func (fs *funcState) constant(key interface{}, v vm.Value) int {
	if idx, ok := fs.constIndex[key]; ok {
		return idx
	}
	idx := len(fs.proto.Constants)
	fs.proto.Constants = append(fs.proto.Constants, v)
	fs.constIndex[key] = idx
	return idx
}

type numKey float64
type strKey string

func (fs *funcState) numberConst(n float64) int {
	return fs.constant(numKey(n), vm.NewNumber(n))
}

func (fs *funcState) stringConst(v *vm.VM, s string) int {
	return fs.constant(strKey(s), vm.NewStringValue(v.InternString(s)))
}

// parser drives the lexer and funcState chain for one chunk.
type parser struct {
	lex  *lexer.Lexer
	file *source.File
	v    *vm.VM

	cur  lexer.Token
	peek lexer.Token

	fs *funcState
}

func newParser(file *source.File, v *vm.VM) *parser {
	p := &parser{lex: lexer.New(file), file: file, v: v}
	p.cur = p.lex.NextToken()
	p.peek = p.lex.NextToken()
	return p
}

func (p *parser) next() {
	p.cur = p.peek
	p.peek = p.lex.NextToken()
}

func (p *parser) at(tt lexer.TokenType) bool { return p.cur.Type == tt }

func (p *parser) accept(tt lexer.TokenType) bool {
	if p.at(tt) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(tt lexer.TokenType) lexer.Token {
	if !p.at(tt) {
		p.fail(fmt.Sprintf("expected %q, got %q", tt, p.cur.Literal))
	}
	t := p.cur
	p.next()
	return t
}

func (p *parser) fail(msg string) {
	panic(bailout{err: &errors.CompileError{
		Position: errors.Position{Line: p.cur.Line, Column: p.cur.Column, StartPos: p.cur.StartPos, EndPos: p.cur.EndPos, Source: p.file},
		Msg:      msg,
	}})
}

// Compile compiles src into a top-level prototype: varargs, no
// parameters, one implicit upvalue-free closure. v is used to intern
// string constants so they're canonical from the moment the prototype is
// built.
func Compile(file *source.File, v *vm.VM) (proto *vm.Proto, err error) {
	defer func() {
		if r := recover(); r != nil {
			if b, ok := r.(bailout); ok {
				err = b.err
				return
			}
			panic(r)
		}
	}()

	main := v.NewProto()
	main.IsVararg = true
	main.Source = file.DisplayName()
	main.Name = "main chunk"

	p := newParser(file, v)
	fs := newFuncState(nil, main)
	p.fs = fs

	p.block()
	p.expect(lexer.EOF)

	fs.emitABC(vm.OpReturn, 0, 1, 0, p.cur.Line)
	return main, nil
}
