package cstruct

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/structparse/cstruct/internal/cexpr"
)

// parser is the recursive-descent grammar over the lexed definition text,
// producing types in the registry.
type parser struct {
	reg  *Registry
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.Kind != tEOF {
		p.i++
	}
	return t
}

func (p *parser) expect(kind tokKind, what string) (token, error) {
	t := p.next()
	if t.Kind != kind {
		return t, p.errf(t, "expected %s, got %q", what, t.Val)
	}
	return t, nil
}

func (p *parser) errf(t token, format string, a ...any) error {
	return posError{Pos: t.Pos, Err: fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, a...))}
}

// regScope evaluates declaration-time expressions: registry constants and
// enum members, no sibling fields.
func (p *parser) regScope() *Scope {
	return &Scope{reg: p.reg}
}

func (p *parser) parseFile() error {
	for {
		t := p.peek()
		switch t.Kind {
		case tEOF:
			return nil
		case tSemi:
			p.next()
		case tDefine:
			if err := p.parseDefine(); err != nil {
				return err
			}
		case tInclude:
			p.next()
			p.reg.includes = append(p.reg.includes, t.Val)
		case tPragma:
			p.next()
		case tIdent:
			switch t.Val {
			case "typedef":
				if err := p.parseTypedef(); err != nil {
					return err
				}
			case "struct", "union":
				if _, err := p.parseStructUnion(structUnionTopLevel); err != nil {
					return err
				}
			case "enum", "flag":
				if err := p.parseEnumFlag(); err != nil {
					return err
				}
			default:
				return p.errf(t, "unexpected identifier %q at top level", t.Val)
			}
		default:
			return p.errf(t, "unexpected token %q", t.Val)
		}
	}
}

func (p *parser) parseDefine() error {
	def := p.next()
	raw, err := p.expect(tRaw, "#define body")
	if err != nil {
		return err
	}

	body := strings.TrimSpace(raw.Val)
	if strings.HasPrefix(body, `"`) && strings.HasSuffix(body, `"`) && len(body) >= 2 {
		p.reg.consts[def.Val] = unescapeString(body[1 : len(body)-1])
		return nil
	}

	if e, err := cexpr.Parse(body); err == nil {
		if v, err := e.Eval(p.regScope()); err == nil {
			p.reg.consts[def.Val] = v
			return nil
		}
	}
	// non-evaluable bodies are kept verbatim, like the original
	p.reg.consts[def.Val] = body
	return nil
}

func unescapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// exprText collects source text until stop returns true for a token at
// bracket/paren depth zero. The stop token is not consumed.
func (p *parser) exprText(stop func(token) bool) (string, token, error) {
	first := p.peek()
	depth := 0
	last := first
	for {
		t := p.peek()
		if t.Kind == tEOF {
			return "", first, p.errf(t, "unterminated expression")
		}
		if depth == 0 && stop(t) {
			break
		}
		switch t.Kind {
		case tLParen, tLBrack:
			depth++
		case tRParen, tRBrack:
			depth--
			if depth < 0 {
				return "", first, p.errf(t, "unbalanced %q in expression", t.Val)
			}
		}
		last = p.next()
	}
	if last == first && p.peek().Off == first.Off {
		return "", first, p.errf(first, "empty expression")
	}
	return p.src[first.Off:last.End], first, nil
}

// parseConstExpr parses and evaluates a declaration-time constant
// expression.
func (p *parser) parseConstExpr(text string, at token) (int64, error) {
	e, err := cexpr.Parse(text)
	if err != nil {
		return 0, posError{Pos: at.Pos, Err: fmt.Errorf("%w: %v", ErrBadExpression, err)}
	}
	v, err := e.Eval(p.regScope())
	if err != nil {
		return 0, posError{Pos: at.Pos, Err: fmt.Errorf("%w: %v", ErrBadExpression, err)}
	}
	return v, nil
}

// parseTypeName resolves a possibly multiword type name ("unsigned long
// long") by greedily extending while the joined name stays known.
func (p *parser) parseTypeName() (Type, error) {
	first, err := p.expect(tIdent, "type name")
	if err != nil {
		return nil, err
	}
	name := first.Val
	for p.peek().Kind == tIdent {
		joined := name + " " + p.peek().Val
		if !p.hasTypeName(joined) {
			break
		}
		name = joined
		p.next()
	}
	t, lerr := p.reg.Lookup(name)
	if lerr != nil {
		return nil, posError{Pos: first.Pos, Err: lerr}
	}
	return t, nil
}

func (p *parser) hasTypeName(name string) bool {
	_, ok := p.reg.typedefs[name]
	return ok
}

// skipAttributes tolerates __packed__ and __attribute__((...)) noise.
func (p *parser) skipAttributes() {
	for p.peek().Kind == tIdent {
		switch p.peek().Val {
		case "__packed__":
			p.next()
		case "__attribute__":
			p.next()
			depth := 0
			for p.peek().Kind == tLParen || depth > 0 {
				t := p.next()
				switch t.Kind {
				case tLParen:
					depth++
				case tRParen:
					depth--
				case tEOF:
					return
				}
				if depth == 0 {
					break
				}
			}
		default:
			return
		}
	}
}

type arraySuffix struct {
	count    int
	expr     *cexpr.Expr
	sentinel bool
}

// parseArraySuffixes parses zero or more [..] suffixes and applies them in
// reverse so the leftmost dimension is outermost. An empty [] is only a
// sentinel inside typedef declarators.
func (p *parser) parseArraySuffixes(t Type, inTypedef bool) (Type, error) {
	var suffixes []arraySuffix
	for p.peek().Kind == tLBrack {
		open := p.next()
		if p.peek().Kind == tRBrack {
			p.next()
			if !inTypedef {
				return nil, p.errf(open, "unsized array; use [NULL] or [none] for a sentinel array")
			}
			suffixes = append(suffixes, arraySuffix{sentinel: true})
			continue
		}

		if t := p.peek(); t.Kind == tIdent && (t.Val == "NULL" || t.Val == "none") {
			if p.toks[p.i+1].Kind == tRBrack {
				p.next()
				p.next()
				suffixes = append(suffixes, arraySuffix{sentinel: true})
				continue
			}
		}

		text, at, err := p.exprText(func(t token) bool { return t.Kind == tRBrack })
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tRBrack, "]"); err != nil {
			return nil, err
		}

		e, perr := cexpr.Parse(text)
		if perr != nil {
			return nil, posError{Pos: at.Pos, Err: fmt.Errorf("%w: %v", ErrBadExpression, perr)}
		}
		if v, err := e.Eval(p.regScope()); err == nil {
			if v < 0 {
				return nil, posError{Pos: at.Pos, Err: fmt.Errorf("%w: negative array count %d", ErrBadExpression, v)}
			}
			suffixes = append(suffixes, arraySuffix{count: int(v)})
		} else {
			// refers to sibling fields, resolved while reading
			suffixes = append(suffixes, arraySuffix{count: -1, expr: e})
		}
	}

	for i := len(suffixes) - 1; i >= 0; i-- {
		s := suffixes[i]
		if _, isArr := t.(*Array); isArr && s.sentinel {
			return nil, fmt.Errorf("%w: depth required for multi-dimensional array", ErrParse)
		}
		switch {
		case s.sentinel:
			t = SentinelArrayOf(t)
		case s.expr != nil:
			t = newExprArray(t, s.expr)
		default:
			t = ArrayOf(t, s.count)
		}
	}
	return t, nil
}

type structUnionMode int

const (
	structUnionTopLevel structUnionMode = iota
	structUnionTypedef
	structUnionField
)

// parseStructUnion parses a struct or union definition, reference or
// forward declaration. Top-level mode consumes and registers trailing
// declarator names; typedef and field modes leave declarators to the
// caller.
func (p *parser) parseStructUnion(mode structUnionMode) (Type, error) {
	kw := p.next()
	isUnion := kw.Val == "union"

	tag := ""
	if p.peek().Kind == tIdent {
		tag = p.next().Val
	}
	p.skipAttributes()

	if p.peek().Kind != tLBrace {
		if tag == "" {
			return nil, p.errf(kw, "anonymous %s without a body", kw.Val)
		}
		if mode == structUnionTopLevel && p.peek().Kind == tSemi {
			// forward declaration
			return p.forwardDeclare(kw, tag, isUnion)
		}
		t, err := p.reg.Lookup(tag)
		if err != nil {
			return nil, posError{Pos: kw.Pos, Err: err}
		}
		return t, nil
	}
	p.next() // '{'

	var fields []*Field
	for p.peek().Kind != tRBrace {
		if p.peek().Kind == tEOF {
			return nil, p.errf(p.peek(), "unterminated %s body", kw.Val)
		}
		if p.peek().Kind == tSemi {
			p.next()
			continue
		}
		f, err := p.parseField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	p.next() // '}'
	p.skipAttributes()

	var names []string
	if mode == structUnionTopLevel {
		for p.peek().Kind == tIdent && !isKeyword(p.peek().Val) {
			names = append(names, p.next().Val)
			if p.peek().Kind == tComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().Kind == tSemi {
			p.next()
		}
	}

	name := tag
	anonymous := false
	if name == "" && len(names) > 0 {
		name = names[0]
	}
	if name == "" {
		name = p.reg.anonName()
		anonymous = true
	}

	t, err := p.makeStructUnion(kw, name, tag, isUnion, anonymous, fields)
	if err != nil {
		return nil, err
	}

	if mode == structUnionTopLevel || tag != "" {
		if tag != "" {
			if err := p.reg.AddType(tag, t); err != nil {
				return nil, posError{Pos: kw.Pos, Err: err}
			}
		}
		for _, n := range names {
			if err := p.reg.AddType(n, t); err != nil {
				return nil, posError{Pos: kw.Pos, Err: err}
			}
		}
	}
	return t, nil
}

func (p *parser) forwardDeclare(kw token, tag string, isUnion bool) (Type, error) {
	if existing, err := p.reg.Lookup(tag); err == nil {
		return existing, nil
	}
	var t Type
	if isUnion {
		t = &Union{Structure: Structure{name: tag, reg: p.reg, incomplete: true}}
	} else {
		t = &Structure{name: tag, reg: p.reg, incomplete: true}
	}
	if err := p.reg.AddType(tag, t); err != nil {
		return nil, posError{Pos: kw.Pos, Err: err}
	}
	return t, nil
}

// makeStructUnion builds the type, filling a pending forward declaration in
// place so earlier references resolve to the completed type.
func (p *parser) makeStructUnion(kw token, name, tag string, isUnion, anonymous bool, fields []*Field) (Type, error) {
	if tag != "" {
		if existing, err := p.reg.Lookup(tag); err == nil {
			switch ex := existing.(type) {
			case *Structure:
				if ex.incomplete && !isUnion {
					if err := ex.setFields(fields); err != nil {
						return nil, posError{Pos: kw.Pos, Err: err}
					}
					return ex, nil
				}
			case *Union:
				if ex.incomplete && isUnion {
					for _, f := range fields {
						if f.Bits > 0 {
							return nil, posError{Pos: kw.Pos, Err: fmt.Errorf("%w: bitfields are not supported in unions", ErrInvalidBitfield)}
						}
					}
					if err := ex.setFields(fields); err != nil {
						return nil, posError{Pos: kw.Pos, Err: err}
					}
					size := 0
					for _, f := range fields {
						f.Offset = 0
						if size >= 0 {
							if isDynamic(f.Type) {
								size = DynamicSize
							} else if f.Type.Size() > size {
								size = f.Type.Size()
							}
						}
					}
					ex.size = size
					return ex, nil
				}
			}
		}
	}

	var t Type
	var err error
	if isUnion {
		t, err = NewUnion(p.reg, name, fields)
	} else {
		var st *Structure
		st, err = NewStructure(p.reg, name, fields)
		if err == nil {
			st.anonymous = anonymous
			t = st
		}
	}
	if err != nil {
		return nil, posError{Pos: kw.Pos, Err: err}
	}
	if st, ok := t.(*Union); ok {
		st.anonymous = anonymous
	}
	return t, nil
}

// parseField parses one field declaration inside a struct or union body.
func (p *parser) parseField() (*Field, error) {
	p.skipAttributes()

	var base Type
	var err error
	start := p.peek()

	if start.Kind == tIdent && (start.Val == "struct" || start.Val == "union") {
		base, err = p.parseStructUnion(structUnionField)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind == tSemi {
			// anonymous inner struct/union; fields promote to the outer type
			p.next()
			return &Field{Name: "", Type: base}, nil
		}
	} else {
		base, err = p.parseTypeName()
		if err != nil {
			return nil, err
		}
	}

	if inner, ok := innerStructure(base); ok && inner.incomplete {
		if p.peek().Kind != tStar {
			return nil, p.errf(start, "field of incomplete type %s", base.Name())
		}
	}

	t := base
	for p.peek().Kind == tStar {
		p.next()
		t = PointerTo(p.reg, t)
	}

	nameTok, err := p.expect(tIdent, "field name")
	if err != nil {
		return nil, err
	}

	t, err = p.parseArraySuffixes(t, false)
	if err != nil {
		return nil, err
	}

	bits := 0
	if p.peek().Kind == tColon {
		p.next()
		text, at, err := p.exprText(func(t token) bool { return t.Kind == tSemi || t.Kind == tComma })
		if err != nil {
			return nil, err
		}
		v, err := p.parseConstExpr(text, at)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, posError{Pos: at.Pos, Err: fmt.Errorf("%w: bitfield width %d", ErrInvalidBitfield, v)}
		}
		bits = int(v)
	}

	if _, err := p.expect(tSemi, ";"); err != nil {
		return nil, err
	}
	return &Field{Name: nameTok.Val, Type: t, Bits: bits}, nil
}

func (p *parser) parseTypedef() error {
	p.next() // 'typedef'
	p.skipAttributes()

	var base Type
	var err error
	t := p.peek()
	if t.Kind == tIdent && (t.Val == "struct" || t.Val == "union") {
		base, err = p.parseStructUnion(structUnionTypedef)
	} else {
		base, err = p.parseTypeName()
	}
	if err != nil {
		return err
	}

	for {
		decl := base
		for p.peek().Kind == tStar {
			p.next()
			decl = PointerTo(p.reg, decl)
		}
		nameTok, err := p.expect(tIdent, "typedef name")
		if err != nil {
			return err
		}
		decl, err = p.parseArraySuffixes(decl, true)
		if err != nil {
			return err
		}
		if err := p.reg.AddType(nameTok.Val, decl); err != nil {
			return posError{Pos: nameTok.Pos, Err: err}
		}
		if p.peek().Kind == tComma {
			p.next()
			continue
		}
		break
	}
	_, err = p.expect(tSemi, ";")
	return err
}

// memberScope resolves already-declared members of the enum being parsed
// before falling back to the registry.
type memberScope struct {
	members map[string]int64
	reg     *Registry
}

func (s memberScope) LookupIdent(name string) (int64, bool) {
	if v, ok := s.members[name]; ok {
		return v, true
	}
	return s.reg.lookupExprIdent(name)
}

func (s memberScope) Sizeof(name string) (int64, bool) {
	t, err := s.reg.Lookup(name)
	if err != nil || isDynamic(t) {
		return 0, false
	}
	return int64(t.Size()), true
}

func (p *parser) parseEnumFlag() error {
	kw := p.next()
	isFlag := kw.Val == "flag"

	tag := ""
	if p.peek().Kind == tIdent {
		tag = p.next().Val
	}

	base := p.reg.mustLookup("uint32")
	if p.peek().Kind == tColon {
		p.next()
		base2, err := p.parseTypeName()
		if err != nil {
			return err
		}
		base = base2
	}
	baseInt, ok := base.(*IntType)
	if !ok {
		return p.errf(kw, "%s base %s is not an integer type", kw.Val, base.Name())
	}

	if _, err := p.expect(tLBrace, "{"); err != nil {
		return err
	}

	var members []EnumMember
	seen := map[string]int64{}
	var nextVal int64
	if isFlag {
		nextVal = 1
	}
	for {
		if p.peek().Kind == tRBrace {
			break
		}
		nameTok, err := p.expect(tIdent, "member name")
		if err != nil {
			return err
		}

		val := nextVal
		if p.peek().Kind == tAssign {
			p.next()
			text, at, err := p.exprText(func(t token) bool { return t.Kind == tComma || t.Kind == tRBrace })
			if err != nil {
				return err
			}
			e, perr := cexpr.Parse(text)
			if perr != nil {
				return posError{Pos: at.Pos, Err: fmt.Errorf("%w: %v", ErrBadExpression, perr)}
			}
			val, err = e.Eval(memberScope{members: seen, reg: p.reg})
			if err != nil {
				return posError{Pos: at.Pos, Err: fmt.Errorf("%w: %v", ErrBadExpression, err)}
			}
		}

		if isFlag {
			nextVal = nextFlagValue(val)
		} else {
			nextVal = val + 1
		}
		members = append(members, EnumMember{Name: nameTok.Val, Value: val})
		seen[nameTok.Val] = val

		if p.peek().Kind == tComma {
			p.next()
		}
	}
	p.next() // '}'

	var names []string
	for p.peek().Kind == tIdent && !isKeyword(p.peek().Val) {
		names = append(names, p.next().Val)
		if p.peek().Kind == tComma {
			p.next()
			continue
		}
		break
	}
	if p.peek().Kind == tSemi {
		p.next()
	}

	name := tag
	if name == "" && len(names) > 0 {
		name = names[0]
	}

	if name == "" {
		// anonymous enums register their members as constants
		for _, m := range members {
			p.reg.consts[m.Name] = m.Value
		}
		return nil
	}

	var t Type
	if isFlag {
		t = newFlag(name, baseInt, members)
	} else {
		t = newEnum(name, baseInt, members)
	}
	if tag != "" {
		if err := p.reg.AddType(tag, t); err != nil {
			return posError{Pos: kw.Pos, Err: err}
		}
	}
	for _, n := range names {
		if err := p.reg.AddType(n, t); err != nil {
			return posError{Pos: kw.Pos, Err: err}
		}
	}
	return nil
}

func isKeyword(s string) bool {
	switch s {
	case "struct", "union", "enum", "flag", "typedef":
		return true
	}
	return false
}

// nextFlagValue is the next power of two above the highest set bit.
func nextFlagValue(v int64) int64 {
	if v <= 0 {
		return 1
	}
	high := 0
	for u := uint64(v); u > 1; u >>= 1 {
		high++
	}
	return int64(1) << (high + 1)
}
