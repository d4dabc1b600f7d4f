package signal

// Kind tags the shape carried by a Payload. Source systems this was
// distilled from carry fully dynamic signal values; Go instead uses this
// small closed union (spec.md §9 "signal payloads are dynamic in the
// source... represent as a tagged union of a small number of shapes").
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindStruct
	KindEnum
)

// Payload is an immutable, small tagged union. Once raised into a sink an
// entry's payload is never mutated.
type Payload struct {
	Kind   Kind
	Bool   bool
	Int64  int64
	Float  float64
	Str    string
	Struct map[string]any
}

func Nil() Payload                { return Payload{Kind: KindNil} }
func Of(b bool) Payload           { return Payload{Kind: KindBool, Bool: b} }
func OfInt(i int64) Payload       { return Payload{Kind: KindInt64, Int64: i} }
func OfFloat(f float64) Payload   { return Payload{Kind: KindFloat64, Float: f} }
func OfString(s string) Payload   { return Payload{Kind: KindString, Str: s} }
func OfEnum(s string) Payload     { return Payload{Kind: KindEnum, Str: s} }
func OfStruct(m map[string]any) Payload {
	return Payload{Kind: KindStruct, Struct: m}
}

// Coerce builds a Payload from an arbitrary Go value, falling back to
// Nil() for shapes outside the closed union rather than failing. This is
// the "invalid payloads are silently coerced to nil" rule from spec §4.1.
func Coerce(v any) Payload {
	switch t := v.(type) {
	case nil:
		return Nil()
	case bool:
		return Of(t)
	case int:
		return OfInt(int64(t))
	case int64:
		return OfInt(t)
	case float64:
		return OfFloat(t)
	case string:
		return OfString(t)
	case map[string]any:
		return OfStruct(t)
	case Payload:
		return t
	default:
		return Nil()
	}
}
