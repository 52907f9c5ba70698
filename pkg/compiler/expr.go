package compiler

import (
	"lumen/pkg/lexer"
	"lumen/pkg/vm"
)

type exprKind int

const (
	kNil exprKind = iota
	kTrue
	kFalse
	kConst  // reg unused, k = constant pool index
	kLocal  // reg = local's register
	kUpval  // reg = upvalue index
	kGlobal // reg = constant pool index of the name
	kIndexed
	kCall    // reg = register the call's (first) result lands in; pc = the CALL instruction
	kVararg  // reg = register "..." 's (first) value lands in; pc = the VARARG instruction
	kReg     // reg = register already holding the value (binop/unop/table/closure result)
)

type exprDesc struct {
	kind  exprKind
	reg   int
	k     int
	pc    int
	table int // for kIndexed: register holding the table
	key   int // for kIndexed: RK operand for the key
}

// isMultiValue reports whether e can expand to more than one value when
// it is the last element of an expression list (call results, varargs).
func isMultiValue(e exprDesc) bool { return e.kind == kCall || e.kind == kVararg }

// setMultret patches the most recently compiled call/vararg so it yields
// every result instead of exactly one, mirroring luaK_setmultret: the
// instruction was always emitted assuming a single result, and is edited
// in place once the surrounding context (an argument list's tail, a
// return statement, a table constructor's tail) is known to want them
// all.
func setMultret(fs *funcState, e exprDesc) {
	switch e.kind {
	case kCall:
		i := fs.proto.Code[e.pc]
		fs.proto.Code[e.pc] = vm.NewABC(vm.OpCall, i.A(), i.B(), 0)
	case kVararg:
		i := fs.proto.Code[e.pc]
		fs.proto.Code[e.pc] = vm.NewABC(vm.OpVararg, i.A(), 0, 0)
	}
}

// setReturns patches a call/vararg left open by setMultret's counterpart
// to instead produce exactly n results (with nil padding at the VM level
// if the callee actually returns fewer), used when an assignment or
// generic for header knows exactly how many values it wants rather than
// "all of them".
func setReturns(fs *funcState, e exprDesc, n int) {
	switch e.kind {
	case kCall:
		i := fs.proto.Code[e.pc]
		fs.proto.Code[e.pc] = vm.NewABC(vm.OpCall, i.A(), i.B(), n+1)
	case kVararg:
		i := fs.proto.Code[e.pc]
		fs.proto.Code[e.pc] = vm.NewABC(vm.OpVararg, i.A(), n+1, 0)
	}
}

// dischargeToReg emits whatever is needed to land e's value in reg.
func (p *parser) dischargeToReg(e exprDesc, reg, line int) {
	fs := p.fs
	switch e.kind {
	case kNil:
		fs.emitABC(vm.OpLoadNil, reg, reg, 0, line)
	case kTrue:
		fs.emitABC(vm.OpLoadBool, reg, 1, 0, line)
	case kFalse:
		fs.emitABC(vm.OpLoadBool, reg, 0, 0, line)
	case kConst:
		fs.emitABx(vm.OpLoadK, reg, e.k, line)
	case kLocal:
		if e.reg != reg {
			fs.emitABC(vm.OpMove, reg, e.reg, 0, line)
		}
	case kUpval:
		fs.emitABC(vm.OpGetUpval, reg, e.reg, 0, line)
	case kGlobal:
		fs.emitABx(vm.OpGetGlobal, reg, e.k, line)
	case kIndexed:
		fs.emitABC(vm.OpGetTable, reg, e.table, e.key, line)
	case kCall, kVararg, kReg:
		if e.reg != reg {
			fs.emitABC(vm.OpMove, reg, e.reg, 0, line)
		}
	}
}

// toNextReg reserves a fresh register and discharges e into it.
func (p *parser) toNextReg(e exprDesc, line int) int {
	reg := p.fs.reserve(1)
	p.dischargeToReg(e, reg, line)
	p.fs.freeTo(reg + 1)
	return reg
}

// toAnyReg returns a register already holding e's value, discharging to a
// fresh one only if necessary.
func (p *parser) toAnyReg(e exprDesc, line int) int {
	switch e.kind {
	case kLocal, kCall, kVararg, kReg:
		return e.reg
	default:
		return p.toNextReg(e, line)
	}
}

// toRK returns an RK-encoded operand: a constant-pool reference when e is
// a literal within direct-addressing range, otherwise a plain register.
func (p *parser) toRK(e exprDesc, line int) int {
	if e.kind == kConst && e.k <= vm.RKMask-1 {
		return e.k | vm.RKMask
	}
	return p.toAnyReg(e, line)
}

// ---- primary / suffixed expressions ----

func (p *parser) parsePrimaryExpr() exprDesc {
	switch p.cur.Type {
	case lexer.NIL:
		p.next()
		return exprDesc{kind: kNil}
	case lexer.TRUE:
		p.next()
		return exprDesc{kind: kTrue}
	case lexer.FALSE:
		p.next()
		return exprDesc{kind: kFalse}
	case lexer.NUMBER:
		n := parseLuaNumberLiteral(p.cur.Literal)
		p.next()
		return exprDesc{kind: kConst, k: p.fs.numberConst(n)}
	case lexer.STRING:
		s := p.cur.Literal
		p.next()
		return exprDesc{kind: kConst, k: p.fs.stringConst(p.v, s)}
	case lexer.ELLIPSIS:
		line := p.cur.Line
		p.next()
		reg := p.fs.reserve(1)
		pc := p.fs.emitABC(vm.OpVararg, reg, 2, 0, line)
		p.fs.freeTo(reg + 1)
		return exprDesc{kind: kVararg, reg: reg, pc: pc}
	case lexer.FUNCTION:
		p.next()
		return p.parseFunctionBody("")
	case lexer.LBRACE:
		return p.parseTableConstructor()
	case lexer.NOT, lexer.MINUS, lexer.HASH:
		return p.parseUnary()
	case lexer.IDENT:
		return p.parseSuffixedExpr()
	case lexer.LPAREN:
		return p.parseSuffixedExpr()
	default:
		p.fail("unexpected token in expression: " + string(p.cur.Type))
		return exprDesc{kind: kNil}
	}
}

// parseSuffixedExpr parses a name or parenthesized expression followed by
// any chain of .field / [expr] / :method(...) / (...) suffixes.
func (p *parser) parseSuffixedExpr() exprDesc {
	var e exprDesc
	line := p.cur.Line

	if p.accept(lexer.LPAREN) {
		e = p.parseExpr()
		p.expect(lexer.RPAREN)
		if isMultiValue(e) {
			e.reg = p.toAnyReg(e, line) // parenthesized calls truncate to one value
			e = exprDesc{kind: kReg, reg: e.reg}
		}
	} else {
		name := p.expect(lexer.IDENT).Literal
		e = p.resolveName(name)
	}

	for {
		line = p.cur.Line
		switch p.cur.Type {
		case lexer.DOT:
			p.next()
			field := p.expect(lexer.IDENT).Literal
			tbl := p.toAnyReg(e, line)
			key := p.fs.stringConst(p.v, field) | vm.RKMask
			e = exprDesc{kind: kIndexed, table: tbl, key: key}
		case lexer.LBRACKET:
			p.next()
			keyExpr := p.parseExpr()
			p.expect(lexer.RBRACKET)
			tbl := p.toAnyReg(e, line)
			e = exprDesc{kind: kIndexed, table: tbl, key: p.toRK(keyExpr, line)}
		case lexer.COLON:
			p.next()
			method := p.expect(lexer.IDENT).Literal
			objReg := p.toAnyReg(e, line)
			base := p.fs.reserve(2)
			key := p.fs.stringConst(p.v, method) | vm.RKMask
			p.fs.emitABC(vm.OpSelf, base, objReg, key, line)
			e = p.parseCallArgs(base, 1, line)
		case lexer.LPAREN, lexer.STRING, lexer.LBRACE:
			fnReg := p.toAnyReg(e, line)
			e = p.parseCallArgs(fnReg, 0, line)
		default:
			return e
		}
	}
}

// resolveName resolves a bare identifier local -> upvalue -> global.
func (p *parser) resolveName(name string) exprDesc {
	if reg, ok := p.fs.resolveLocal(name); ok {
		return exprDesc{kind: kLocal, reg: reg}
	}
	if idx, ok := p.fs.resolveUpvalue(name); ok {
		return exprDesc{kind: kUpval, reg: idx}
	}
	return exprDesc{kind: kGlobal, k: p.fs.stringConst(p.v, name)}
}

// parseCallArgs parses a call's argument list and emits the CALL. implicit
// is the count of argument registers already placed directly after fnReg
// before the explicit list starts (1 for a method call's self, 0
// otherwise).
func (p *parser) parseCallArgs(fnReg, implicit, line int) exprDesc {
	p.fs.freeTo(fnReg + 1 + implicit)

	var nargs int
	multret := false

	switch p.cur.Type {
	case lexer.LPAREN:
		p.next()
		if !p.at(lexer.RPAREN) {
			nargs, multret = p.exprListToRegs(line)
		}
		p.expect(lexer.RPAREN)
	case lexer.STRING:
		s := p.cur.Literal
		p.next()
		p.toNextReg(exprDesc{kind: kConst, k: p.fs.stringConst(p.v, s)}, line)
		nargs = 1
	case lexer.LBRACE:
		e := p.parseTableConstructor()
		p.toNextReg(e, line)
		nargs = 1
	}

	b := implicit + nargs + 1
	if multret {
		b = 0
	}
	pc := p.fs.emitABC(vm.OpCall, fnReg, b, 2, line)
	p.fs.freeTo(fnReg + 1)
	return exprDesc{kind: kCall, reg: fnReg, pc: pc}
}

// exprListOpen compiles a comma-separated expression list into successive
// registers starting at the current free-register mark. If the final
// expression is itself a call or vararg, it is left undischarged (neither
// forced to one value nor expanded) so the caller can decide: setMultret
// for "all results" (argument lists, return, table constructor tails) or
// setReturns for "exactly n results" (assignment, generic for headers).
// hasTail reports whether the last exprDesc returned is such an open call/
// vararg; count is the number of registers already holding a discharged
// value before it.
func (p *parser) exprListOpen(line int) (count int, tail exprDesc, hasTail bool) {
	for {
		e := p.parseExpr()
		if p.at(lexer.COMMA) {
			p.toNextReg(e, line)
			count++
			p.next()
			continue
		}
		if isMultiValue(e) {
			return count, e, true
		}
		p.toNextReg(e, line)
		count++
		return count, exprDesc{}, false
	}
}

// exprListToRegs is exprListOpen for contexts that always want "all
// results" from an open tail (argument lists, return, table constructors).
func (p *parser) exprListToRegs(line int) (count int, multret bool) {
	count, tail, hasTail := p.exprListOpen(line)
	if hasTail {
		setMultret(p.fs, tail)
		return count, true
	}
	return count, false
}

func (p *parser) parseUnary() exprDesc {
	op := p.cur.Type
	line := p.cur.Line
	p.next()
	operand := p.parseBinExpr(unaryPriority)
	reg := p.toAnyReg(operand, line)
	dst := p.fs.reserve(1)
	switch op {
	case lexer.NOT:
		p.fs.emitABC(vm.OpNot, dst, reg, 0, line)
	case lexer.MINUS:
		p.fs.emitABC(vm.OpUnm, dst, reg, 0, line)
	case lexer.HASH:
		p.fs.emitABC(vm.OpLen, dst, reg, 0, line)
	}
	p.fs.freeTo(dst + 1)
	return exprDesc{kind: kReg, reg: dst}
}

// ---- binary operator precedence climbing ----

type binOp struct {
	left, right int
}

const unaryPriority = 12

var binPriority = map[lexer.TokenType]binOp{
	lexer.OR:      {1, 1},
	lexer.AND:     {2, 2},
	lexer.LT:      {3, 3}, lexer.GT: {3, 3}, lexer.LE: {3, 3}, lexer.GE: {3, 3}, lexer.EQ: {3, 3}, lexer.NEQ: {3, 3},
	lexer.CONCAT:  {9, 8}, // right associative
	lexer.PLUS:    {10, 10}, lexer.MINUS: {10, 10},
	lexer.STAR:    {11, 11}, lexer.SLASH: {11, 11}, lexer.PERCENT: {11, 11},
	lexer.CARET:   {14, 13}, // right associative, binds tighter than unary
}

func (p *parser) parseExpr() exprDesc { return p.parseBinExpr(0) }

func (p *parser) parseBinExpr(limit int) exprDesc {
	left := p.parsePrimaryExpr()
	for {
		op, ok := binPriority[p.cur.Type]
		if !ok || op.left <= limit {
			return left
		}
		opTok := p.cur.Type
		line := p.cur.Line
		p.next()

		if opTok == lexer.AND {
			left = p.compileAnd(left, line)
			continue
		}
		if opTok == lexer.OR {
			left = p.compileOr(left, line)
			continue
		}

		right := p.parseBinExpr(op.right)
		left = p.compileBinOp(opTok, left, right, line)
	}
}

func (p *parser) compileBinOp(op lexer.TokenType, lhs, rhs exprDesc, line int) exprDesc {
	fs := p.fs
	switch op {
	case lexer.PLUS, lexer.MINUS, lexer.STAR, lexer.SLASH, lexer.PERCENT, lexer.CARET:
		b := p.toRK(lhs, line)
		c := p.toRK(rhs, line)
		dst := fs.reserve(1)
		fs.emitABC(arithOp(op), dst, b, c, line)
		fs.freeTo(dst + 1)
		return exprDesc{kind: kReg, reg: dst}

	case lexer.CONCAT:
		b := p.toAnyReg(lhs, line)
		c := p.toAnyReg(rhs, line)
		dst := fs.reserve(1)
		fs.emitABC(vm.OpConcat, dst, b, c, line)
		fs.freeTo(dst + 1)
		return exprDesc{kind: kReg, reg: dst}

	case lexer.EQ, lexer.NEQ, lexer.LT, lexer.GT, lexer.LE, lexer.GE:
		b := p.toRK(lhs, line)
		c := p.toRK(rhs, line)
		var compOp vm.OpCode
		negate := false
		switch op {
		case lexer.EQ:
			compOp = vm.OpEq
		case lexer.NEQ:
			compOp = vm.OpEq
			negate = true
		case lexer.LT:
			compOp = vm.OpLt
		case lexer.GT:
			compOp = vm.OpLt
			b, c = c, b
		case lexer.LE:
			compOp = vm.OpLe
		case lexer.GE:
			compOp = vm.OpLe
			b, c = c, b
		}
		// compOp's A=1 means "pc++ (skip the next instruction) unless the
		// comparison holds". So the fallthrough path is the true-on-match
		// case; LOADBOOL's own skip-next bit picks off the other branch
		// without needing a separate JMP.
		fs.emitABC(compOp, 1, b, c, line)
		dst := fs.reserve(1)
		trueVal, falseVal := 1, 0
		if negate {
			trueVal, falseVal = 0, 1
		}
		fs.emitABC(vm.OpLoadBool, dst, trueVal, 1, line)
		fs.emitABC(vm.OpLoadBool, dst, falseVal, 0, line)
		fs.freeTo(dst + 1)
		return exprDesc{kind: kReg, reg: dst}
	}
	p.fail("unsupported binary operator")
	return exprDesc{kind: kNil}
}

func arithOp(op lexer.TokenType) vm.OpCode {
	switch op {
	case lexer.PLUS:
		return vm.OpAdd
	case lexer.MINUS:
		return vm.OpSub
	case lexer.STAR:
		return vm.OpMul
	case lexer.SLASH:
		return vm.OpDiv
	case lexer.PERCENT:
		return vm.OpMod
	case lexer.CARET:
		return vm.OpPow
	}
	return vm.OpAdd
}

// compileAnd/compileOr implement short-circuit evaluation via TEST +
// conditional JMP rather than dedicated opcodes, per the spec's opcode
// table (no AND/OR instructions).
func (p *parser) compileAnd(lhs exprDesc, line int) exprDesc {
	reg := p.toAnyReg(lhs, line)
	p.fs.emitABC(vm.OpTest, reg, 0, 0, line)
	jmp := p.fs.emitAsBx(vm.OpJmp, 0, 0, line)
	p.fs.freeTo(reg)
	rhs := p.parseBinExpr(binPriority[lexer.AND].right)
	p.dischargeToReg(rhs, reg, line)
	p.fs.freeTo(reg + 1)
	p.fs.patchJumpHere(jmp)
	return exprDesc{kind: kReg, reg: reg}
}

func (p *parser) compileOr(lhs exprDesc, line int) exprDesc {
	reg := p.toAnyReg(lhs, line)
	p.fs.emitABC(vm.OpTest, reg, 0, 1, line)
	jmp := p.fs.emitAsBx(vm.OpJmp, 0, 0, line)
	p.fs.freeTo(reg)
	rhs := p.parseBinExpr(binPriority[lexer.OR].right)
	p.dischargeToReg(rhs, reg, line)
	p.fs.freeTo(reg + 1)
	p.fs.patchJumpHere(jmp)
	return exprDesc{kind: kReg, reg: reg}
}

// ---- table constructors ----

func (p *parser) parseTableConstructor() exprDesc {
	line := p.cur.Line
	p.expect(lexer.LBRACE)
	tbl := p.fs.reserve(1)
	p.fs.emitABC(vm.OpNewTable, tbl, 0, 0, line)

	arrayIndex := 1
	pending := 0
	blockOf := func(idx int) int { return (idx-1)/vm.FPF + 1 }
	flush := func() {
		if pending == 0 {
			return
		}
		p.fs.emitABC(vm.OpSetList, tbl, pending, blockOf(arrayIndex), line)
		p.fs.freeTo(tbl + 1)
		arrayIndex += pending
		pending = 0
	}

	for !p.at(lexer.RBRACE) {
		switch {
		case p.at(lexer.LBRACKET):
			p.next()
			keyExpr := p.parseExpr()
			p.expect(lexer.RBRACKET)
			p.expect(lexer.ASSIGN)
			valExpr := p.parseExpr()
			key := p.toRK(keyExpr, line)
			val := p.toRK(valExpr, line)
			p.fs.emitABC(vm.OpSetTable, tbl, key, val, line)
			p.fs.freeTo(tbl + 1 + pending)

		case p.at(lexer.IDENT) && p.peek.Type == lexer.ASSIGN:
			name := p.cur.Literal
			p.next()
			p.next()
			valExpr := p.parseExpr()
			key := p.fs.stringConst(p.v, name) | vm.RKMask
			val := p.toRK(valExpr, line)
			p.fs.emitABC(vm.OpSetTable, tbl, key, val, line)
			p.fs.freeTo(tbl + 1 + pending)

		default:
			e := p.parseExpr()
			last := !p.at(lexer.COMMA) && !p.at(lexer.SEMI)
			if last && isMultiValue(e) && p.peekIsCloseBrace() {
				setMultret(p.fs, e)
				p.fs.emitABC(vm.OpSetList, tbl, 0, blockOf(arrayIndex), line)
				p.fs.freeTo(tbl + 1)
			} else {
				p.toNextReg(e, line)
				pending++
				if pending >= vm.FPF {
					flush()
				}
			}
		}

		if !p.accept(lexer.COMMA) && !p.accept(lexer.SEMI) {
			break
		}
	}
	flush()
	p.expect(lexer.RBRACE)
	return exprDesc{kind: kReg, reg: tbl}
}

func (p *parser) peekIsCloseBrace() bool { return p.at(lexer.RBRACE) }
