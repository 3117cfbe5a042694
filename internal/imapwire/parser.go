package imapwire

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is returned for a syntactically malformed response line.
// It carries enough context to log without re-deriving it.
type ParseError struct {
	Line   []byte
	Cursor int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("imapwire: parse error at byte %d: %s", e.Cursor, e.Reason)
}

// ParseResponse parses one complete logical line (as returned by
// LineScanner.Peek, CRLF included) into a Response.
func ParseResponse(line []byte) (*Response, error) {
	l := newLexer(line)
	b, ok := l.peekByte()
	if !ok {
		return nil, &ParseError{line, l.pos, "empty line"}
	}
	switch b {
	case '+':
		return parseContinuation(l)
	case '*':
		return parseUntagged(l)
	default:
		return parseTagged(l)
	}
}

func wrapErr(l *lexer, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ParseError); ok {
		return err
	}
	return &ParseError{l.line, l.pos, err.Error()}
}

func parseContinuation(l *lexer) (*Response, error) {
	l.pos++ // '+'
	l.skipSpaces()
	text := trimCRLF(l.line[l.pos:])
	return &Response{Continuation: &ContinuationResp{Text: string(text)}}, nil
}

func trimCRLF(b []byte) []byte {
	if len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n' {
		return b[:len(b)-2]
	}
	return b
}

func parseTagged(l *lexer) (*Response, error) {
	tag, err := l.readAtom()
	if err != nil {
		return nil, wrapErr(l, err)
	}
	l.skipSpaces()
	status, err := readStatus(l)
	if err != nil {
		return nil, wrapErr(l, err)
	}
	l.skipSpaces()
	text, err := parseResponseText(l)
	if err != nil {
		return nil, wrapErr(l, err)
	}
	return &Response{Tagged: &TaggedResp{Tag: tag, Status: status, Text: text}}, nil
}

func readStatus(l *lexer) (Status, error) {
	switch {
	case l.matchAtomCI("OK"):
		return StatusOK, nil
	case l.matchAtomCI("NO"):
		return StatusNO, nil
	case l.matchAtomCI("BAD"):
		return StatusBAD, nil
	}
	return 0, fmt.Errorf("expected OK/NO/BAD at position %d", l.pos)
}

// parseResponseText parses `["[" code "]" SP] text`.
func parseResponseText(l *lexer) (ResponseText, error) {
	var rt ResponseText
	if b, ok := l.peekByte(); ok && b == '[' {
		l.pos++
		name, err := l.readAtom()
		if err != nil {
			return rt, err
		}
		name = strings.ToUpper(name)
		var args []string
		if b, ok := l.peekByte(); ok && b == ' ' {
			l.skipSpaces()
			for {
				if b, ok := l.peekByte(); ok && b == ']' {
					break
				}
				a, err := l.readAtom()
				if err != nil {
					return rt, err
				}
				args = append(args, a)
				if b, ok := l.peekByte(); ok && b == ' ' {
					l.skipSpaces()
					continue
				}
				break
			}
		}
		if b, ok := l.peekByte(); !ok || b != ']' {
			return rt, fmt.Errorf("expected ']' at position %d", l.pos)
		}
		l.pos++
		rt.Code = &ResponseTextCode{Name: name, Args: args}
		l.skipSpaces()
	}
	rt.Text = string(trimCRLF(l.line[l.pos:]))
	return rt, nil
}

func parseUntagged(l *lexer) (*Response, error) {
	l.pos++ // '*'
	l.skipSpaces()

	// Numeric-prefixed responses: "<n> EXISTS|RECENT|EXPUNGE|FETCH"
	if b, ok := l.peekByte(); ok && b >= '0' && b <= '9' {
		n, err := l.readNumber()
		if err != nil {
			return nil, wrapErr(l, err)
		}
		l.skipSpaces()
		switch {
		case l.matchAtomCI("EXISTS"):
			return &Response{Untagged: &UntaggedResp{Type: "EXISTS", Number: uint32(n)}}, nil
		case l.matchAtomCI("RECENT"):
			return &Response{Untagged: &UntaggedResp{Type: "RECENT", Number: uint32(n)}}, nil
		case l.matchAtomCI("EXPUNGE"):
			return &Response{Untagged: &UntaggedResp{Type: "EXPUNGE", Number: uint32(n)}}, nil
		case l.matchAtomCI("FETCH"):
			l.skipSpaces()
			attrs, err := parseFetchAttrs(l)
			if err != nil {
				return nil, wrapErr(l, err)
			}
			return &Response{Untagged: &UntaggedResp{Type: "FETCH", FetchSeq: uint32(n), FetchAttr: attrs}}, nil
		}
		return nil, &ParseError{l.line, l.pos, "unknown numeric-prefixed untagged response"}
	}

	switch {
	case l.matchAtomCI("OK") || l.matchAtomCI("NO") || l.matchAtomCI("BAD") || l.matchAtomCI("PREAUTH") || l.matchAtomCI("BYE"):
		kind := string(l.line[2:l.pos])
		l.skipSpaces()
		text, err := parseResponseText(l)
		if err != nil {
			return nil, wrapErr(l, err)
		}
		var st Status
		switch strings.ToUpper(kind) {
		case "OK", "PREAUTH":
			st = StatusOK
		case "NO", "BYE":
			st = StatusNO
		case "BAD":
			st = StatusBAD
		}
		return &Response{Untagged: &UntaggedResp{Type: strings.ToUpper(kind), Status: &st, Text: text}}, nil
	case l.matchAtomCI("CAPABILITY"):
		l.skipSpaces()
		var caps []string
		for !l.atEndOfLine() {
			a, err := l.readAtom()
			if err != nil {
				break
			}
			caps = append(caps, a)
			l.skipSpaces()
		}
		return &Response{Untagged: &UntaggedResp{Type: "CAPABILITY", Caps: caps}}, nil
	case l.matchAtomCI("FLAGS"):
		l.skipSpaces()
		var flags []string
		err := l.readList(func() error {
			f, err := l.readAtom()
			if err != nil {
				return err
			}
			flags = append(flags, f)
			return nil
		})
		if err != nil {
			return nil, wrapErr(l, err)
		}
		return &Response{Untagged: &UntaggedResp{Type: "FLAGS", Flags: flags}}, nil
	case l.matchAtomCI("LIST"), l.matchAtomCI("LSUB"):
		return parseList(l)
	case l.matchAtomCI("STATUS"):
		return parseStatus(l)
	case l.matchAtomCI("SEARCH"):
		l.skipSpaces()
		var nums []uint32
		for !l.atEndOfLine() {
			n, err := l.readNumber()
			if err != nil {
				break
			}
			nums = append(nums, uint32(n))
			l.skipSpaces()
		}
		return &Response{Untagged: &UntaggedResp{Type: "SEARCH", SearchNumbers: nums}}, nil
	case l.matchAtomCI("ESEARCH"):
		return parseESearch(l)
	}
	return nil, &ParseError{l.line, l.pos, "unrecognized untagged response"}
}

func parseList(l *lexer) (*Response, error) {
	l.skipSpaces()
	u := &UntaggedResp{Type: "LIST"}
	err := l.readList(func() error {
		f, err := l.readAtom()
		if err != nil {
			return err
		}
		u.MailboxFlags = append(u.MailboxFlags, f)
		return nil
	})
	if err != nil {
		return nil, wrapErr(l, err)
	}
	l.skipSpaces()
	if l.matchAtomCI("NIL") {
		u.HasDelimiter = false
	} else {
		d, err := l.readQuotedString()
		if err != nil {
			return nil, wrapErr(l, err)
		}
		if len(d) != 1 {
			return nil, &ParseError{l.line, l.pos, "mailbox delimiter must be a single character"}
		}
		u.Delimiter = d[0]
		u.HasDelimiter = true
	}
	l.skipSpaces()
	mbox, err := l.readString()
	if err != nil {
		return nil, wrapErr(l, err)
	}
	u.Mailbox = mbox
	return &Response{Untagged: u}, nil
}

func parseStatus(l *lexer) (*Response, error) {
	l.skipSpaces()
	mbox, err := l.readString()
	if err != nil {
		return nil, wrapErr(l, err)
	}
	l.skipSpaces()
	attrs := make(map[string]uint64)
	err = l.readList(func() error {
		name, err := l.readAtom()
		if err != nil {
			return err
		}
		l.skipSpaces()
		v, err := l.readNumber()
		if err != nil {
			return err
		}
		attrs[strings.ToUpper(name)] = v
		return nil
	})
	if err != nil {
		return nil, wrapErr(l, err)
	}
	return &Response{Untagged: &UntaggedResp{Type: "STATUS", StatusMailbox: mbox, StatusAttrs: attrs}}, nil
}

func parseESearch(l *lexer) (*Response, error) {
	l.skipSpaces()
	es := &ESearchResp{}
	if b, ok := l.peekByte(); ok && b == '(' {
		l.pos++
		if l.matchAtomCI("TAG") {
			l.skipSpaces()
			tag, err := l.readString()
			if err != nil {
				return nil, wrapErr(l, err)
			}
			es.Tag = tag
		}
		if b, ok := l.peekByte(); ok && b == ')' {
			l.pos++
		}
		l.skipSpaces()
	}
	if l.matchAtomCI("UID") {
		es.UID = true
		l.skipSpaces()
	}
	for !l.atEndOfLine() {
		switch {
		case l.matchAtomCI("MIN"):
			l.skipSpaces()
			n, err := l.readNumber()
			if err != nil {
				return nil, wrapErr(l, err)
			}
			es.Min, es.HaveMin = uint32(n), true
		case l.matchAtomCI("MAX"):
			l.skipSpaces()
			n, err := l.readNumber()
			if err != nil {
				return nil, wrapErr(l, err)
			}
			es.Max, es.HaveMax = uint32(n), true
		case l.matchAtomCI("COUNT"):
			l.skipSpaces()
			n, err := l.readNumber()
			if err != nil {
				return nil, wrapErr(l, err)
			}
			es.Count, es.HaveCount = uint32(n), true
		case l.matchAtomCI("ALL"):
			l.skipSpaces()
			seq, err := l.readAtom()
			if err != nil {
				return nil, wrapErr(l, err)
			}
			nums, err := expandSequenceSet(seq)
			if err != nil {
				return nil, wrapErr(l, err)
			}
			es.All = nums
		default:
			// Unknown/unused return item (e.g. MODSEQ): skip one atom.
			if _, err := l.readAtom(); err != nil {
				return nil, wrapErr(l, err)
			}
		}
		l.skipSpaces()
	}
	return &Response{Untagged: &UntaggedResp{Type: "ESEARCH", ESearch: es}}, nil
}

// expandSequenceSet expands a compact IMAP sequence set such as
// "1,3:5,9" into its member numbers, in ascending order of
// appearance. "*" is not valid in a server-returned ESEARCH ALL set
// and is rejected.
func expandSequenceSet(s string) ([]uint32, error) {
	var out []uint32
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, ':'); i >= 0 {
			lo, err := strconv.ParseUint(part[:i], 10, 32)
			if err != nil {
				return nil, err
			}
			hi, err := strconv.ParseUint(part[i+1:], 10, 32)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			for v := lo; v <= hi; v++ {
				out = append(out, uint32(v))
			}
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func parseFetchAttrs(l *lexer) (*FetchAttrs, error) {
	attrs := &FetchAttrs{BodySections: make(map[string][]byte)}
	err := l.readList(func() error {
		name, err := l.readAtom()
		if err != nil {
			return err
		}
		l.skipSpaces()
		switch strings.ToUpper(name) {
		case "UID":
			n, err := l.readNumber()
			if err != nil {
				return err
			}
			attrs.UID, attrs.HasUID = uint32(n), true
		case "FLAGS":
			return l.readList(func() error {
				f, err := l.readAtom()
				if err != nil {
					return err
				}
				attrs.Flags = append(attrs.Flags, f)
				attrs.HasFlags = true
				return nil
			})
		case "INTERNALDATE":
			d, err := l.readQuotedString()
			if err != nil {
				return err
			}
			attrs.InternalDate, attrs.HasInternalDate = d, true
		case "MODSEQ":
			if b, ok := l.peekByte(); !ok || b != '(' {
				return fmt.Errorf("expected '(' after MODSEQ")
			}
			l.pos++
			n, err := l.readNumber()
			if err != nil {
				return err
			}
			if b, ok := l.peekByte(); !ok || b != ')' {
				return fmt.Errorf("expected ')' after MODSEQ value")
			}
			l.pos++
			attrs.ModSeq, attrs.HasModSeq = n, true
		case "X-GM-MSGID":
			n, err := l.readNumber()
			if err != nil {
				return err
			}
			attrs.GMMsgID, attrs.HasGMMsgID = n, true
		case "X-GM-THRID":
			n, err := l.readNumber()
			if err != nil {
				return err
			}
			attrs.GMThrID, attrs.HasGMThrID = n, true
		case "X-GM-LABELS":
			return l.readList(func() error {
				lbl, err := l.readString()
				if err != nil {
					return err
				}
				attrs.GMLabels = append(attrs.GMLabels, lbl)
				attrs.HasGMLabels = true
				return nil
			})
		case "ENVELOPE":
			env, err := parseEnvelope(l)
			if err != nil {
				return err
			}
			attrs.Envelope = env
		case "BODYSTRUCTURE", "BODY":
			// Bare "BODY" (no section) also introduces a BODYSTRUCTURE;
			// "BODY[section]" is recognized by the '[' readAtom
			// stopped at.
			if b, ok := l.peekByte(); ok && b == '[' {
				section, err := readSectionSuffix(l)
				if err != nil {
					return err
				}
				l.skipSpaces()
				data, ok, err := l.readNString()
				if err != nil {
					return err
				}
				if ok {
					attrs.BodySections[section] = []byte(data)
				}
				return nil
			}
			bs, err := parseBodyStructure(l)
			if err != nil {
				return err
			}
			attrs.BodyStructure = bs
		default:
			return fmt.Errorf("unsupported FETCH attribute %q", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// readSectionSuffix reads the "[section]<partial>" tail that follows
// a bare "BODY" atom in a fetch response (readAtom stops at '[',
// leaving the section specifier to be scanned from the current
// position).
func readSectionSuffix(l *lexer) (string, error) {
	if b, ok := l.peekByte(); !ok || b != '[' {
		return "", fmt.Errorf("expected '[' at position %d", l.pos)
	}
	start := l.pos
	l.pos++
	for !l.eof() && l.line[l.pos] != ']' {
		l.pos++
	}
	if l.eof() {
		return "", fmt.Errorf("unterminated section specifier")
	}
	l.pos++ // ']'
	section := string(l.line[start+1 : l.pos-1])
	if !l.eof() && l.line[l.pos] == '<' {
		for !l.eof() && l.line[l.pos] != '>' {
			l.pos++
		}
		if !l.eof() {
			l.pos++
		}
	}
	return section, nil
}

func parseEnvelope(l *lexer) (*Envelope, error) {
	env := &Envelope{}
	if b, ok := l.peekByte(); !ok || b != '(' {
		return nil, fmt.Errorf("expected '(' at position %d", l.pos)
	}
	l.pos++
	var err error
	if env.Date, _, err = l.readNString(); err != nil {
		return nil, err
	}
	l.skipSpaces()
	if env.Subject, _, err = l.readNString(); err != nil {
		return nil, err
	}
	l.skipSpaces()
	for _, dst := range []*[]Address{&env.From, &env.Sender, &env.ReplyTo, &env.To, &env.Cc, &env.Bcc} {
		addrs, err := parseAddressList(l)
		if err != nil {
			return nil, err
		}
		*dst = addrs
		l.skipSpaces()
	}
	if env.InReplyTo, _, err = l.readNString(); err != nil {
		return nil, err
	}
	l.skipSpaces()
	if env.MessageID, _, err = l.readNString(); err != nil {
		return nil, err
	}
	if b, ok := l.peekByte(); !ok || b != ')' {
		return nil, fmt.Errorf("expected ')' closing envelope at position %d", l.pos)
	}
	l.pos++
	return env, nil
}

func parseAddressList(l *lexer) ([]Address, error) {
	if l.matchAtomCI("NIL") {
		return nil, nil
	}
	var addrs []Address
	err := l.readList(func() error {
		a, err := parseAddress(l)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
		return nil
	})
	return addrs, err
}

func parseAddress(l *lexer) (Address, error) {
	var a Address
	if b, ok := l.peekByte(); !ok || b != '(' {
		return a, fmt.Errorf("expected '(' at position %d", l.pos)
	}
	l.pos++
	var err error
	if a.Name, _, err = l.readNString(); err != nil {
		return a, err
	}
	l.skipSpaces()
	if a.Adl, _, err = l.readNString(); err != nil {
		return a, err
	}
	l.skipSpaces()
	if a.Mailbox, _, err = l.readNString(); err != nil {
		return a, err
	}
	l.skipSpaces()
	if a.Host, _, err = l.readNString(); err != nil {
		return a, err
	}
	if b, ok := l.peekByte(); !ok || b != ')' {
		return a, fmt.Errorf("expected ')' closing address at position %d", l.pos)
	}
	l.pos++
	return a, nil
}

func parseBodyStructure(l *lexer) (*BodyStructure, error) {
	if b, ok := l.peekByte(); !ok || b != '(' {
		return nil, fmt.Errorf("expected '(' at position %d", l.pos)
	}
	l.pos++
	l.skipSpaces()
	if b, ok := l.peekByte(); ok && b == '(' {
		// multipart: one or more nested body structures followed by
		// the multipart subtype.
		bs := &BodyStructure{Kind: BodyMultipart}
		for {
			part, err := parseBodyStructure(l)
			if err != nil {
				return nil, err
			}
			bs.Parts = append(bs.Parts, *part)
			l.skipSpaces()
			if b, ok := l.peekByte(); !ok || b != '(' {
				break
			}
		}
		subtype, _, err := l.readNString()
		if err != nil {
			return nil, err
		}
		bs.MixedSubtype = subtype
		// Skip any trailing extension data up to the closing paren.
		if err := skipToMatchingParen(l); err != nil {
			return nil, err
		}
		return bs, nil
	}

	typ, _, err := l.readNString()
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	subtype, _, err := l.readNString()
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	params, err := parseBodyParams(l)
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	id, _, err := l.readNString()
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	desc, _, err := l.readNString()
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	enc, _, err := l.readNString()
	if err != nil {
		return nil, err
	}
	l.skipSpaces()
	size, err := l.readNumber()
	if err != nil {
		return nil, err
	}

	bs := &BodyStructure{
		Type: typ, Subtype: subtype, Params: params,
		ID: id, Description: desc, Encoding: enc, Size: uint32(size),
	}

	upperType := strings.ToUpper(typ)
	switch {
	case upperType == "TEXT":
		bs.Kind = BodyText
		l.skipSpaces()
		lines, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		bs.Lines = uint32(lines)
	case upperType == "MESSAGE" && strings.ToUpper(subtype) == "RFC822":
		bs.Kind = BodyMessageRFC822
		l.skipSpaces()
		env, err := parseEnvelope(l)
		if err != nil {
			return nil, err
		}
		bs.Envelope = env
		l.skipSpaces()
		body, err := parseBodyStructure(l)
		if err != nil {
			return nil, err
		}
		bs.Body = body
		l.skipSpaces()
		lines, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		bs.Lines = uint32(lines)
	default:
		bs.Kind = BodyBasic
	}

	if err := skipToMatchingParen(l); err != nil {
		return nil, err
	}
	return bs, nil
}

func parseBodyParams(l *lexer) (map[string]string, error) {
	if l.matchAtomCI("NIL") {
		return nil, nil
	}
	params := make(map[string]string)
	err := l.readList(func() error {
		k, _, err := l.readNString()
		if err != nil {
			return err
		}
		l.skipSpaces()
		v, _, err := l.readNString()
		if err != nil {
			return err
		}
		params[strings.ToUpper(k)] = v
		return nil
	})
	return params, err
}

// skipToMatchingParen consumes and discards any remaining body
// extension data (disposition, language, location, MD5) up to and
// including the body structure's closing ')'. This client does not
// surface that extension data (spec Non-goals scope body rendering
// out), but must still consume it to stay in sync with the line.
func skipToMatchingParen(l *lexer) error {
	depth := 1
	for depth > 0 {
		l.skipSpaces()
		if l.eof() {
			return fmt.Errorf("unterminated body structure")
		}
		b := l.line[l.pos]
		switch {
		case b == ')':
			depth--
			l.pos++
		case b == '(':
			depth++
			l.pos++
		case b == '"':
			if _, err := l.readQuotedString(); err != nil {
				return err
			}
		case b == '{':
			if _, err := l.readLiteral(); err != nil {
				return err
			}
		default:
			if _, err := l.readAtom(); err != nil {
				return err
			}
		}
	}
	return nil
}
