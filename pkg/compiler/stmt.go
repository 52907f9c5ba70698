package compiler

import (
	"strconv"

	"lumen/pkg/lexer"
	"lumen/pkg/vm"
)

// parseLuaNumberLiteral converts a lexer NUMBER token's literal text (a
// decimal or 0x-prefixed hex integer, both optionally with fraction/
// exponent for decimals) to its float64 value.
func parseLuaNumberLiteral(lit string) float64 {
	if len(lit) > 1 && lit[0] == '0' && (lit[1] == 'x' || lit[1] == 'X') {
		n, err := strconv.ParseUint(lit[2:], 16, 64)
		if err != nil {
			return 0
		}
		return float64(n)
	}
	n, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0
	}
	return n
}

var blockFollow = map[lexer.TokenType]bool{
	lexer.EOF: true, lexer.END: true, lexer.ELSE: true, lexer.ELSEIF: true, lexer.UNTIL: true,
}

// block parses a sequence of statements up to (but not consuming) whatever
// follows the block (end/else/elseif/until/EOF), opening and closing its
// own local-variable scope.
func (p *parser) block() {
	p.fs.enterBlock()
	for !blockFollow[p.cur.Type] {
		p.fs.freeTo(p.fs.localTop())
		if p.at(lexer.RETURN) {
			p.returnStmt()
			break
		}
		if p.statement() {
			break
		}
	}
	p.fs.leaveBlock()
}

// statement parses one statement, reporting whether it was a break (the
// only statement that can end a block early besides return).
func (p *parser) statement() bool {
	switch p.cur.Type {
	case lexer.SEMI:
		p.next()
		return false
	case lexer.IF:
		p.ifStmt()
		return false
	case lexer.WHILE:
		p.whileStmt()
		return false
	case lexer.DO:
		p.next()
		p.block()
		p.expect(lexer.END)
		return false
	case lexer.FOR:
		p.forStmt()
		return false
	case lexer.REPEAT:
		p.repeatStmt()
		return false
	case lexer.FUNCTION:
		p.functionStmt()
		return false
	case lexer.LOCAL:
		p.localStmt()
		return false
	case lexer.BREAK:
		p.next()
		p.emitBreak()
		return true
	default:
		p.exprStmt()
		return false
	}
}

func (p *parser) emitBreak() {
	if len(p.fs.breakJumps) == 0 {
		p.fail("break outside loop")
	}
	line := p.cur.Line
	pc := p.fs.emitAsBx(vm.OpJmp, 0, 0, line)
	top := len(p.fs.breakJumps) - 1
	p.fs.breakJumps[top] = append(p.fs.breakJumps[top], pc)
}

func (p *parser) enterLoop() { p.fs.breakJumps = append(p.fs.breakJumps, nil) }

func (p *parser) leaveLoop() {
	top := len(p.fs.breakJumps) - 1
	jumps := p.fs.breakJumps[top]
	p.fs.breakJumps = p.fs.breakJumps[:top]
	for _, pc := range jumps {
		p.fs.patchJumpHere(pc)
	}
}

// ---- control flow ----

func (p *parser) ifStmt() {
	var endJumps []int
	p.expect(lexer.IF)
	for {
		cond := p.parseExpr()
		reg := p.toAnyReg(cond, p.cur.Line)
		p.fs.emitABC(vm.OpTest, reg, 0, 0, p.cur.Line)
		falseJump := p.fs.emitAsBx(vm.OpJmp, 0, 0, p.cur.Line)
		p.fs.freeTo(reg)

		p.expect(lexer.THEN)
		p.block()

		if p.at(lexer.ELSEIF) || p.at(lexer.ELSE) {
			endJumps = append(endJumps, p.fs.emitAsBx(vm.OpJmp, 0, 0, p.cur.Line))
		}
		p.fs.patchJumpHere(falseJump)

		if p.accept(lexer.ELSEIF) {
			continue
		}
		break
	}
	if p.accept(lexer.ELSE) {
		p.block()
	}
	p.expect(lexer.END)
	for _, pc := range endJumps {
		p.fs.patchJumpHere(pc)
	}
}

func (p *parser) whileStmt() {
	p.expect(lexer.WHILE)
	top := len(p.fs.proto.Code)
	cond := p.parseExpr()
	reg := p.toAnyReg(cond, p.cur.Line)
	p.fs.emitABC(vm.OpTest, reg, 0, 0, p.cur.Line)
	exitJump := p.fs.emitAsBx(vm.OpJmp, 0, 0, p.cur.Line)
	p.fs.freeTo(reg)

	p.expect(lexer.DO)
	p.enterLoop()
	p.block()
	p.expect(lexer.END)

	backPC := p.fs.emitAsBx(vm.OpJmp, 0, 0, p.cur.Line)
	p.fs.patchJumpTo(backPC, top)
	p.fs.patchJumpHere(exitJump)
	p.leaveLoop()
}

func (p *parser) repeatStmt() {
	p.expect(lexer.REPEAT)
	top := len(p.fs.proto.Code)
	p.enterLoop()

	// repeat's until-condition can see the block's locals, so the scope
	// stays open across both the body and the condition.
	p.fs.enterBlock()
	for !p.at(lexer.UNTIL) {
		p.fs.freeTo(p.fs.localTop())
		if p.at(lexer.RETURN) {
			p.returnStmt()
			break
		}
		if p.statement() {
			break
		}
	}
	p.expect(lexer.UNTIL)
	cond := p.parseExpr()
	reg := p.toAnyReg(cond, p.cur.Line)
	p.fs.leaveBlock()

	// until cond: loop again while cond is falsy, exit once it's truthy.
	p.fs.emitABC(vm.OpTest, reg, 0, 0, p.cur.Line)
	backPC := p.fs.emitAsBx(vm.OpJmp, 0, 0, p.cur.Line)
	p.fs.patchJumpTo(backPC, top)
	p.leaveLoop()
}

func (p *parser) forStmt() {
	p.expect(lexer.FOR)
	name := p.expect(lexer.IDENT).Literal

	if p.at(lexer.ASSIGN) {
		p.numericForStmt(name)
		return
	}
	p.genericForStmt(name)
}

func (p *parser) numericForStmt(name string) {
	line := p.cur.Line
	p.expect(lexer.ASSIGN)
	startExpr := p.parseExpr()
	base := p.toNextReg(startExpr, line)
	p.expect(lexer.COMMA)
	limitExpr := p.parseExpr()
	p.toNextReg(limitExpr, line)
	stepReg := p.fs.reserve(1)
	if p.accept(lexer.COMMA) {
		stepExpr := p.parseExpr()
		p.dischargeToReg(stepExpr, stepReg, line)
	} else {
		p.dischargeToReg(exprDesc{kind: kConst, k: p.fs.numberConst(1)}, stepReg, line)
	}
	p.fs.freeTo(base + 3)

	p.expect(lexer.DO)
	prepPC := p.fs.emitAsBx(vm.OpForPrep, base, 0, line)

	p.fs.enterBlock()
	loopVarReg := p.fs.reserve(1)
	p.fs.locals = append(p.fs.locals, localVar{name: name, reg: loopVarReg})
	p.fs.freeTo(loopVarReg + 1)

	p.enterLoop()
	p.block()
	p.expect(lexer.END)
	p.fs.leaveBlock()

	loopPC := p.fs.emitAsBx(vm.OpForLoop, base, 0, line)
	p.fs.patchJumpTo(prepPC, loopPC)
	p.fs.patchJumpTo(loopPC, prepPC+1)
	p.leaveLoop()
}

func (p *parser) genericForStmt(first string) {
	line := p.cur.Line
	names := []string{first}
	for p.accept(lexer.COMMA) {
		names = append(names, p.expect(lexer.IDENT).Literal)
	}
	p.expect(lexer.IN)

	base := p.fs.freeReg
	p.compileAssignValues(3, line)
	p.fs.freeTo(base + 3)

	p.expect(lexer.DO)

	p.fs.enterBlock()
	firstVarReg := p.fs.reserve(len(names))
	for i, n := range names {
		p.fs.locals = append(p.fs.locals, localVar{name: n, reg: firstVarReg + i})
	}

	topJump := p.fs.emitAsBx(vm.OpJmp, 0, 0, line)
	bodyStart := len(p.fs.proto.Code)

	p.enterLoop()
	p.block()
	p.expect(lexer.END)

	p.fs.patchJumpHere(topJump)
	p.fs.emitABC(vm.OpTForLoop, base, 0, len(names), line)
	backPC := p.fs.emitAsBx(vm.OpJmp, 0, 0, line)
	p.fs.patchJumpTo(backPC, bodyStart)

	p.fs.leaveBlock()
	p.leaveLoop()
}

// ---- declarations ----

func (p *parser) localStmt() {
	p.expect(lexer.LOCAL)
	if p.accept(lexer.FUNCTION) {
		name := p.expect(lexer.IDENT).Literal
		reg := p.fs.declareLocal(name)
		fnExpr := p.parseFunctionBody(name)
		p.dischargeToReg(fnExpr, reg, p.cur.Line)
		return
	}

	var names []string
	names = append(names, p.expect(lexer.IDENT).Literal)
	for p.accept(lexer.COMMA) {
		names = append(names, p.expect(lexer.IDENT).Literal)
	}

	line := p.cur.Line
	base := p.fs.freeReg
	nvals := 0
	if p.accept(lexer.ASSIGN) {
		nvals, _ = p.compileAssignValues(len(names), line)
	}
	for nvals < len(names) {
		p.toNextReg(exprDesc{kind: kNil}, line)
		nvals++
	}
	p.fs.freeTo(base)
	for _, n := range names {
		p.fs.locals = append(p.fs.locals, localVar{name: n, reg: p.fs.reserve(1)})
	}
}

// compileAssignValues compiles a comma-separated expression list into
// exactly `want` contiguous registers starting at the caller's current
// free-reg mark: a trailing call/vararg is patched (via setReturns) to
// produce precisely the remaining count, nil-padded by the VM if the
// callee actually returns fewer; a non-multivalue tail is nil-padded here
// instead. Extra values beyond `want` are left uncounted (their registers
// freed away).
func (p *parser) compileAssignValues(want, line int) (int, bool) {
	start := p.fs.freeReg
	count, tail, hasTail := p.exprListOpen(line)

	if hasTail {
		remaining := want - count
		if remaining < 0 {
			remaining = 0
		}
		setReturns(p.fs, tail, remaining)
		p.fs.freeTo(start + count + remaining)
		if want > count {
			count = want
		}
		return count, true
	}

	for count < want {
		p.toNextReg(exprDesc{kind: kNil}, line)
		count++
	}
	p.fs.freeTo(start + want)
	return want, false
}

// functionStmt parses `function Name(...) ... end` and the dotted/colon
// sugar `function a.b.c:m(...) ... end`, desugaring to an assignment of a
// function expression to the resolved target.
func (p *parser) functionStmt() {
	p.expect(lexer.FUNCTION)
	line := p.cur.Line
	nameForDebug := p.cur.Literal
	target := p.resolveName(p.expect(lexer.IDENT).Literal)

	isMethod := false
	for p.at(lexer.DOT) || p.at(lexer.COLON) {
		method := p.at(lexer.COLON)
		p.next()
		field := p.expect(lexer.IDENT).Literal
		nameForDebug = nameForDebug + "." + field
		tbl := p.toAnyReg(target, line)
		key := p.fs.stringConst(p.v, field) | vm.RKMask
		target = exprDesc{kind: kIndexed, table: tbl, key: key}
		if method {
			isMethod = true
			break
		}
	}

	fnExpr := p.parseFunctionBodyWithSelf(nameForDebug, isMethod)
	p.assignTo(target, fnExpr, line)
}

// assignTo stores val into the location described by target.
func (p *parser) assignTo(target exprDesc, val exprDesc, line int) {
	switch target.kind {
	case kLocal:
		p.dischargeToReg(val, target.reg, line)
	case kUpval:
		reg := p.toAnyReg(val, line)
		p.fs.emitABC(vm.OpSetUpval, reg, target.reg, 0, line)
	case kGlobal:
		reg := p.toAnyReg(val, line)
		p.fs.emitABx(vm.OpSetGlobal, reg, target.k, line)
	case kIndexed:
		v := p.toRK(val, line)
		p.fs.emitABC(vm.OpSetTable, target.table, target.key, v, line)
	default:
		p.fail("cannot assign to this expression")
	}
}

// ---- expression statements: bare calls and (multiple) assignment ----

func (p *parser) exprStmt() {
	line := p.cur.Line
	first := p.parseSuffixedExpr()

	if p.at(lexer.ASSIGN) || p.at(lexer.COMMA) {
		targets := []exprDesc{first}
		for p.accept(lexer.COMMA) {
			targets = append(targets, p.parseSuffixedExpr())
		}
		p.expect(lexer.ASSIGN)

		base := p.fs.freeReg
		count, _ := p.compileAssignValues(len(targets), line)
		_ = count
		for i, t := range targets {
			p.assignTo(t, exprDesc{kind: kReg, reg: base + i}, line)
		}
		p.fs.freeTo(base)
		return
	}

	if first.kind != kCall {
		p.fail("syntax error: expression statement must be a function call")
	}
}

func (p *parser) returnStmt() {
	line := p.cur.Line
	p.expect(lexer.RETURN)
	base := p.fs.freeReg

	if blockFollow[p.cur.Type] || p.at(lexer.SEMI) {
		p.accept(lexer.SEMI)
		p.fs.emitABC(vm.OpReturn, base, 1, 0, line)
		return
	}

	count, multret := p.exprListToRegs(line)
	b := count + 1
	if multret {
		b = 0
	}
	p.accept(lexer.SEMI)
	p.fs.emitABC(vm.OpReturn, base, b, 0, line)
}

// ---- function bodies ----

func (p *parser) parseFunctionBody(debugName string) exprDesc {
	return p.parseFunctionBodyWithSelf(debugName, false)
}

func (p *parser) parseFunctionBodyWithSelf(debugName string, withSelf bool) exprDesc {
	line := p.cur.Line
	childProto := p.v.NewProto()
	childProto.Source = p.file.DisplayName()
	childProto.LineDefined = line
	childProto.Name = debugName

	childFS := newFuncState(p.fs, childProto)
	parentFS := p.fs
	p.fs = childFS

	if withSelf {
		childFS.locals = append(childFS.locals, localVar{name: "self", reg: childFS.reserve(1)})
		childProto.NumParams++
	}

	p.expect(lexer.LPAREN)
	if !p.at(lexer.RPAREN) {
		for {
			if p.at(lexer.ELLIPSIS) {
				p.next()
				childProto.IsVararg = true
				break
			}
			pname := p.expect(lexer.IDENT).Literal
			childFS.declareLocal(pname)
			childProto.NumParams++
			if !p.accept(lexer.COMMA) {
				break
			}
		}
	}
	p.expect(lexer.RPAREN)

	p.block()
	p.expect(lexer.END)
	childFS.emitABC(vm.OpReturn, 0, 1, 0, p.cur.Line)

	p.fs = parentFS
	protoIdx := len(parentFS.proto.Protos)
	parentFS.proto.Protos = append(parentFS.proto.Protos, childProto)

	dst := parentFS.reserve(1)
	parentFS.emitABx(vm.OpClosure, dst, protoIdx, line)
	parentFS.freeTo(dst + 1)
	return exprDesc{kind: kReg, reg: dst}
}
