package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Varargs string formatting
// ---------------------------------------------------------------------------

// MaxFormatArgs bounds the vararg count accepted by FormatString.
const MaxFormatArgs = 256

// FormatArg is one typed vararg: the type tag pushed by the caller and the
// value slots it covers (three for vectors, two for delegates).
type FormatArg struct {
	Kind  TypeKind
	Slots []Value
}

// FormatError reports a format string that does not agree with its
// arguments.
type FormatError struct {
	Format string
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format %q: %s", e.Format, e.Msg)
}

// FormatString pops the vararg block of a formatting native and renders
// it. The stack holds the format string, then each vararg's slots followed
// by its type tag, then the vararg count.
func (m *Machine) FormatString() (string, error) {
	count := int(m.PopInt())
	if count < 0 {
		return "", fmt.Errorf("invalid number of arguments to string formatting function (%d)", count)
	}
	if count >= MaxFormatArgs {
		return "", fmt.Errorf("too many arguments to string formatting function (%d)", count)
	}
	args := make([]FormatArg, count)
	for i := count - 1; i >= 0; i-- {
		kind := TypeKind(m.PopInt())
		args[i] = FormatArg{Kind: kind, Slots: m.PopN(formatSlots(kind))}
	}
	format := m.PopString()
	return formatWith(format, args, m.log.Warningf)
}

// Format renders format with the given arguments.
func Format(format string, args []FormatArg) (string, error) {
	return formatWith(format, args, nil)
}

type formatSpec struct {
	left  bool
	zero  bool
	width int
	verb  byte
}

func formatWith(format string, args []FormatArg, warnf func(string, ...any)) (string, error) {
	var sb strings.Builder
	next := 0
	for pos := 0; pos < len(format); {
		c := format[pos]
		if c != '%' {
			sb.WriteByte(c)
			pos++
			continue
		}
		start := pos
		pos++
		if pos >= len(format) {
			sb.WriteByte('%')
			break
		}
		if format[pos] == '%' {
			sb.WriteByte('%')
			pos++
			continue
		}
		spec := formatSpec{width: -1}
		if format[pos] == '-' {
			spec.left = true
			pos++
			if pos >= len(format) {
				sb.WriteString("%-")
				break
			}
		}
		if isDigit(format[pos]) {
			spec.zero = format[pos] == '0'
			spec.width = 0
			for pos < len(format) && isDigit(format[pos]) {
				spec.width = spec.width*10 + int(format[pos]-'0')
				pos++
			}
			if pos >= len(format) {
				sb.WriteString(format[start:])
				break
			}
		}
		spec.verb = format[pos]
		pos++
		if !knownVerb(spec.verb) {
			if warnf != nil {
				warnf("unknown format identifier '%c' in %q", spec.verb, format)
			}
			sb.WriteByte(spec.verb)
			continue
		}
		if next >= len(args) {
			return "", &FormatError{Format: format, Msg: "out of arguments"}
		}
		if err := spec.render(&sb, args[next]); err != nil {
			return "", &FormatError{Format: format, Msg: err.Error()}
		}
		next++
	}
	if next < len(args) {
		if warnf != nil {
			warnf("not all arguments were used by %q (%d of %d)", format, next, len(args))
		}
	}
	return sb.String(), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func knownVerb(c byte) bool {
	return strings.IndexByte("dixfnpvBCsq", c) >= 0
}

func (s formatSpec) invalid(arg FormatArg) error {
	return fmt.Errorf("invalid %s argument to format specifier '%c'", arg.Kind, s.verb)
}

func formatSlots(kind TypeKind) int {
	switch kind {
	case TypeVector:
		return 3
	case TypeDelegate:
		return 2
	}
	return 1
}

func (s formatSpec) render(sb *strings.Builder, arg FormatArg) error {
	if len(arg.Slots) < formatSlots(arg.Kind) {
		return fmt.Errorf("%s argument has %d slots", arg.Kind, len(arg.Slots))
	}
	v := arg.Slots[0]
	switch s.verb {
	case 'd', 'i', 'x':
		var n int32
		switch arg.Kind {
		case TypeInt, TypeByte, TypeBool:
			n = v.Int
		case TypeFloat:
			n = int32(v.Float)
		case TypeName:
			n = v.Int
		default:
			return s.invalid(arg)
		}
		s.putInt(sb, n)
	case 'f':
		switch arg.Kind {
		case TypeInt, TypeByte, TypeBool:
			sb.WriteString(formatFloat(float32(v.Int)))
		case TypeFloat:
			sb.WriteString(formatFloat(v.Float))
		default:
			return s.invalid(arg)
		}
	case 'n':
		switch arg.Kind {
		case TypeName:
			s.putStr(sb, nameText(v), false)
		case TypeString:
			s.putStr(sb, v.Str, false)
		default:
			return s.invalid(arg)
		}
	case 'p':
		if arg.Kind != TypePointer {
			return s.invalid(arg)
		}
		sb.WriteString(pointerText(v))
	case 'v':
		if arg.Kind != TypeVector {
			return s.invalid(arg)
		}
		sb.WriteString(vectorText(arg.Slots))
	case 'B':
		switch arg.Kind {
		case TypeInt, TypeByte, TypeBool:
			s.putStr(sb, strconv.FormatBool(v.Int != 0), false)
		case TypeFloat:
			s.putStr(sb, strconv.FormatBool(v.Float != 0), false)
		default:
			return s.invalid(arg)
		}
	case 'C':
		switch arg.Kind {
		case TypeClass:
			s.putStr(sb, className(v.AsClass()), false)
		case TypeReference:
			var c *Class
			if o := v.AsObject(); o != nil {
				c = o.Class
			}
			s.putStr(sb, className(c), false)
		default:
			return s.invalid(arg)
		}
	case 's', 'q':
		return s.renderAny(sb, arg)
	}
	return nil
}

// renderAny implements %s and %q, which accept most types.
func (s formatSpec) renderAny(sb *strings.Builder, arg FormatArg) error {
	quote := s.verb == 'q'
	v := arg.Slots[0]
	switch arg.Kind {
	case TypeVoid:
		s.putStr(sb, "<void>", false)
	case TypeInt, TypeByte, TypeBool:
		s.putInt(sb, v.Int)
	case TypeFloat:
		sb.WriteString(formatFloat(v.Float))
	case TypeName:
		if v.Str == "" {
			s.putStr(sb, "<none>", false)
		} else {
			s.putStr(sb, v.Str, quote)
		}
	case TypeString:
		s.putStr(sb, v.Str, quote)
	case TypePointer:
		sb.WriteString(pointerText(v))
	case TypeReference:
		if o := v.AsObject(); o != nil {
			s.putStr(sb, "("+o.Class.Name+")", quote)
		} else {
			s.putStr(sb, "(none)", quote)
		}
	case TypeClass:
		if c := v.AsClass(); c != nil {
			s.putStr(sb, QualifiedName(c), quote)
		} else {
			s.putStr(sb, "(none)", false)
		}
	case TypeState:
		st := v.AsState()
		switch {
		case st == nil:
			s.putStr(sb, "(none)", false)
		case quote:
			s.putStr(sb, QualifiedName(st), true)
		default:
			s.putStr(sb, fmt.Sprintf("%s[%s:%d]", QualifiedName(st), st.Location.File, st.Location.Line), false)
		}
	case TypeDelegate:
		obj, meth := v.AsObject(), arg.Slots[1].AsMethod()
		switch {
		case meth == nil:
			s.putStr(sb, "(empty delegate)", false)
		case obj == nil:
			s.putStr(sb, "(invalid delegate)", false)
		default:
			s.putStr(sb, fmt.Sprintf("delegate<%s/%s>", QualifiedName(obj.Class), QualifiedName(meth)), quote)
		}
	case TypeVector:
		s.putStr(sb, vectorText(arg.Slots), false)
	case TypeDynamicArray:
		s.putStr(sb, fmt.Sprintf("array(%d)", v.AsArray().Len()), false)
	case TypeArray, TypeSliceArray:
		s.putStr(sb, arg.Kind.String(), false)
	default:
		return s.invalid(arg)
	}
	return nil
}

// putInt writes n padded to the field width. Zero fill keeps the sign in
// front of the zeros.
func (s formatSpec) putInt(sb *strings.Builder, n int32) {
	var text string
	if s.verb == 'x' {
		text = strconv.FormatUint(uint64(uint32(n)), 16)
	} else {
		text = strconv.FormatInt(int64(n), 10)
	}
	pad := s.width - len(text)
	if pad > 0 && !s.left {
		if s.zero {
			if text[0] == '-' {
				sb.WriteByte('-')
				text = text[1:]
			}
			sb.WriteString(strings.Repeat("0", pad))
		} else {
			sb.WriteString(strings.Repeat(" ", pad))
		}
	}
	sb.WriteString(text)
	if pad > 0 && s.left {
		sb.WriteString(strings.Repeat(" ", pad))
	}
}

// putStr writes text padded with spaces to the field width. With quote
// set the text is escaped and wrapped in double quotes.
func (s formatSpec) putStr(sb *strings.Builder, text string, quote bool) {
	if quote {
		text = QuoteString(text)
	}
	pad := s.width - len(text)
	if pad > 0 && !s.left {
		sb.WriteString(strings.Repeat(" ", pad))
	}
	sb.WriteString(text)
	if pad > 0 && s.left {
		sb.WriteString(strings.Repeat(" ", pad))
	}
}

// QuoteString escapes tabs, newlines, carriage returns, other control
// characters, quotes and backslashes, and wraps the result in quotes.
func QuoteString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < ' ' || c == 127:
			fmt.Fprintf(&sb, `\x%02x`, c)
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func nameText(v Value) string {
	if v.Str == "" {
		return "<none>"
	}
	return v.Str
}

func className(c *Class) string {
	if c == nil {
		return "<none>"
	}
	return c.Name
}

func pointerText(v Value) string {
	p, ok := v.AsPointer()
	if !ok {
		return "(nil)"
	}
	return fmt.Sprintf("%p+%d", &p.Slots[0], p.Index)
}

func vectorText(slots []Value) string {
	return "(" + formatFloat(slots[0].Float) + "," + formatFloat(slots[1].Float) + "," + formatFloat(slots[2].Float) + ")"
}
