package protocol

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var ErrUnsupportedType = errors.New("protocol: unsupported value type")

const (
	TagNull   = ""
	TagInt    = "int"
	TagBool   = "bool"
	TagString = "string"
	TagGUID   = "guid"

	arraySuffix = "[]"
)

type valueCodec struct {
	tag   string
	typ   reflect.Type
	write func(w *Writer, v any)
	read  func(r *Reader) any
}

var values = struct {
	sync.RWMutex
	byTag  map[string]*valueCodec
	byType map[reflect.Type]*valueCodec
}{
	byTag:  map[string]*valueCodec{},
	byType: map[reflect.Type]*valueCodec{},
}

// RegisterValue makes a custom type writable as a tagged value. Call it
// from an init function; tags must be unique.
func RegisterValue[T any](tag string, write func(*Writer, T), read func(*Reader) T) {
	var zero T
	c := &valueCodec{
		tag:   tag,
		typ:   reflect.TypeOf(zero),
		write: func(w *Writer, v any) { write(w, v.(T)) },
		read:  func(r *Reader) any { return read(r) },
	}
	values.Lock()
	defer values.Unlock()
	if _, ok := values.byTag[tag]; ok {
		panic("protocol: duplicate value tag " + tag)
	}
	values.byTag[tag] = c
	values.byType[c.typ] = c
}

func init() {
	RegisterValue(TagInt, (*Writer).WriteInt, (*Reader).ReadInt)
	RegisterValue(TagBool, (*Writer).WriteBool, (*Reader).ReadBool)
	RegisterValue(TagString, (*Writer).WriteString, (*Reader).ReadString)
	RegisterValue(TagGUID, (*Writer).WriteGUID, (*Reader).ReadGUID)
	RegisterValue("ObjectIdentifier", WriteObjectIdentifier, ReadObjectIdentifier)
	RegisterValue("SourceReference", WriteSourceReference, ReadSourceReference)
}

func codecForType(t reflect.Type) *valueCodec {
	values.RLock()
	defer values.RUnlock()
	return values.byType[t]
}

func codecForTag(tag string) *valueCodec {
	values.RLock()
	defer values.RUnlock()
	return values.byTag[tag]
}

// WriteValue writes v as a tagged value: nil, a registered type, or a
// slice of a registered type.
func (w *Writer) WriteValue(v any) error {
	if v == nil {
		w.WriteString(TagNull)
		return nil
	}
	t := reflect.TypeOf(v)
	if c := codecForType(t); c != nil {
		w.WriteString(c.tag)
		c.write(w, v)
		return nil
	}
	if t.Kind() == reflect.Slice {
		c := codecForType(t.Elem())
		if c == nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
		rv := reflect.ValueOf(v)
		w.WriteString(c.tag + arraySuffix)
		w.WriteInt(rv.Len())
		for i := 0; i < rv.Len(); i++ {
			c.write(w, rv.Index(i).Interface())
		}
		return nil
	}
	if t.Kind() == reflect.Pointer {
		if reflect.ValueOf(v).IsNil() {
			w.WriteString(TagNull)
			return nil
		}
		return w.WriteValue(reflect.ValueOf(v).Elem().Interface())
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// ReadValue reads a tagged value. Arrays come back as typed slices
// ([]string, []ObjectIdentifier, ...). An unknown tag fails the reader
// with ErrUnsupportedType.
func (r *Reader) ReadValue() any {
	tag := r.ReadString()
	if r.err != nil || tag == TagNull {
		return nil
	}
	if c := codecForTag(tag); c != nil {
		return c.read(r)
	}
	if elem, ok := strings.CutSuffix(tag, arraySuffix); ok {
		c := codecForTag(elem)
		if c == nil {
			r.fail(fmt.Errorf("%w: %q", ErrUnsupportedType, tag))
			return nil
		}
		n := r.ReadCount()
		slice := reflect.MakeSlice(reflect.SliceOf(c.typ), 0, min(n, 1024))
		for i := 0; i < n && r.err == nil; i++ {
			slice = reflect.Append(slice, reflect.ValueOf(c.read(r)))
		}
		if r.err != nil {
			return nil
		}
		return slice.Interface()
	}
	r.fail(fmt.Errorf("%w: %q", ErrUnsupportedType, tag))
	return nil
}

// ValueAs converts a decoded tagged value to T, treating null as the zero
// value.
func ValueAs[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", ErrUnsupportedType, v, zero)
	}
	return t, nil
}
