package program

// Binary Format Layout (§6 "Bytecode on disk"):
//
//   [Header]
//     Magic (4 bytes):   0x4F55524F, little-endian (bytes 4F 52 55 4F)
//     Version (2 bytes): format version, currently 1
//
//   [Constants section]   Count(4) then Count entries: Tag(1) + payload
//   [Symbols section]     Count(4) then Count entries: Name, IsGlobal(1), Index(4)
//   [Functions section]   Count(4) then Count entries: see encodeFunction
//   [Types section]       Count(4) then Count entries: see encodeType
//   [Code section]        Length(4) then raw code bytes
//
// The dispatch semantics in §4 are authoritative regardless of this
// particular serialization; Decode/Encode exist only so a Program can
// round-trip to and from storage.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/ouroboros-lang/ourovm/api"
)

const (
	magicNumber  uint32 = 0x4F55524F // "OURO"
	formatVersion uint16 = 1
)

const (
	constTagNull byte = iota
	constTagBool
	constTagInt32
	constTagInt64
	constTagFloat32
	constTagFloat64
	constTagString
)

// Decode reads a Program from its on-disk representation.
func Decode(r io.Reader) (*Program, error) {
	br := &byteReader{r: r}

	var magic uint32
	var version uint16
	if err := br.read(&magic); err != nil {
		return nil, pkgerrors.Wrap(err, "reading magic")
	}
	if magic != magicNumber {
		return nil, fmt.Errorf("program: bad magic number %#x", magic)
	}
	if err := br.read(&version); err != nil {
		return nil, pkgerrors.Wrap(err, "reading version")
	}
	if version != formatVersion {
		return nil, fmt.Errorf("program: unsupported format version %d", version)
	}

	p := &Program{
		Functions: map[string]*Function{},
		Types:     map[string]*TypeDescriptor{},
		Symbols:   map[string]Symbol{},
	}

	constCount, err := br.readCount()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading constant count")
	}
	p.Constants = make([]api.Value, constCount)
	for i := range p.Constants {
		v, err := decodeConstant(br)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "decoding constant %d", i)
		}
		p.Constants[i] = v
	}

	symCount, err := br.readCount()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading symbol count")
	}
	for i := uint32(0); i < symCount; i++ {
		name, err := br.readString()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "reading symbol name")
		}
		isGlobal, err := br.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := br.readInt32()
		if err != nil {
			return nil, err
		}
		p.Symbols[name] = Symbol{IsGlobal: isGlobal != 0, Index: int(idx)}
		if isGlobal != 0 && int(idx)+1 > p.GlobalCount {
			p.GlobalCount = int(idx) + 1
		}
	}

	funcCount, err := br.readCount()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading function count")
	}
	for i := uint32(0); i < funcCount; i++ {
		f, err := decodeFunction(br)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "decoding function %d", i)
		}
		p.Functions[f.Name] = f
		p.FuncOrder = append(p.FuncOrder, f)
	}

	typeCount, err := br.readCount()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading type count")
	}
	for i := uint32(0); i < typeCount; i++ {
		t, err := decodeType(br)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "decoding type %d", i)
		}
		p.Types[t.Name] = t
	}

	codeLen, err := br.readCount()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading code length")
	}
	p.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(br.r, p.Code); err != nil {
		return nil, pkgerrors.Wrap(err, "reading code")
	}

	return p, nil
}

func decodeConstant(br *byteReader) (api.Value, error) {
	tag, err := br.readByte()
	if err != nil {
		return api.Value{}, err
	}
	switch tag {
	case constTagNull:
		return api.Null(), nil
	case constTagBool:
		b, err := br.readByte()
		return api.Bool(b != 0), err
	case constTagInt32:
		v, err := br.readInt32()
		return api.Int32(v), err
	case constTagInt64:
		v, err := br.readInt64()
		return api.Int64(v), err
	case constTagFloat32:
		var bits uint32
		if err := br.read(&bits); err != nil {
			return api.Value{}, err
		}
		return api.Float32(float32FromBits(bits)), nil
	case constTagFloat64:
		var bits uint64
		if err := br.read(&bits); err != nil {
			return api.Value{}, err
		}
		return api.Float64(float64FromBits(bits)), nil
	case constTagString:
		s, err := br.readString()
		return api.String(s), err
	default:
		return api.Value{}, fmt.Errorf("program: unknown constant tag %d", tag)
	}
}

func decodeFunction(br *byteReader) (*Function, error) {
	name, err := br.readString()
	if err != nil {
		return nil, err
	}
	start, err := br.readInt32()
	if err != nil {
		return nil, err
	}
	end, err := br.readInt32()
	if err != nil {
		return nil, err
	}
	paramCount, err := br.readInt32()
	if err != nil {
		return nil, err
	}
	localCount, err := br.readInt32()
	if err != nil {
		return nil, err
	}
	flags, err := br.readByte()
	if err != nil {
		return nil, err
	}
	f := &Function{
		Name:           name,
		StartOffset:    int(start),
		EndOffset:      int(end),
		ParameterCount: int(paramCount),
		LocalCount:     int(localCount),
		IsAsync:        flags&0x1 != 0,
		IsGenerator:    flags&0x2 != 0,
	}
	paramNameCount, err := br.readCount()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < paramNameCount; i++ {
		n, err := br.readString()
		if err != nil {
			return nil, err
		}
		f.ParameterNames = append(f.ParameterNames, n)
	}
	regionCount, err := br.readCount()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < regionCount; i++ {
		h, err := decodeHandlerRegion(br)
		if err != nil {
			return nil, err
		}
		f.Handlers = append(f.Handlers, h)
	}
	return f, nil
}

func decodeHandlerRegion(br *byteReader) (HandlerRegion, error) {
	var h HandlerRegion
	vals := make([]int32, 4)
	for i := range vals {
		v, err := br.readInt32()
		if err != nil {
			return h, err
		}
		vals[i] = v
	}
	excType, err := br.readString()
	if err != nil {
		return h, err
	}
	h.TryStart = int(vals[0])
	h.TryEnd = int(vals[1])
	h.CatchStart = int(vals[2])
	h.FinallyStart = int(vals[3])
	h.ExceptionType = excType
	return h, nil
}

func decodeType(br *byteReader) (*TypeDescriptor, error) {
	name, err := br.readString()
	if err != nil {
		return nil, err
	}
	base, err := br.readString()
	if err != nil {
		return nil, err
	}
	isValue, err := br.readByte()
	if err != nil {
		return nil, err
	}
	t := &TypeDescriptor{Name: name, BaseName: base, IsValue: isValue != 0, Members: map[string]Member{}}
	fieldCount, err := br.readCount()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < fieldCount; i++ {
		fname, err := br.readString()
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, fname)
	}
	memberCount, err := br.readCount()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < memberCount; i++ {
		mname, err := br.readString()
		if err != nil {
			return nil, err
		}
		kind, err := br.readByte()
		if err != nil {
			return nil, err
		}
		slot, err := br.readInt32()
		if err != nil {
			return nil, err
		}
		funcName, err := br.readString()
		if err != nil {
			return nil, err
		}
		virt, err := br.readByte()
		if err != nil {
			return nil, err
		}
		t.Members[mname] = Member{
			Name: mname, Kind: MemberKind(kind), Slot: int(slot),
			FuncName: funcName, IsVirtual: virt != 0,
		}
	}
	return t, nil
}

// byteReader is a small binary.Read wrapper following the encoding/binary
// + io.Reader style kristofer-smog's format.go uses.
type byteReader struct{ r io.Reader }

func (b *byteReader) read(v any) error { return binary.Read(b.r, binary.LittleEndian, v) }

func (b *byteReader) readByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *byteReader) readInt32() (int32, error) {
	var v int32
	err := b.read(&v)
	return v, err
}

func (b *byteReader) readInt64() (int64, error) {
	var v int64
	err := b.read(&v)
	return v, err
}

func (b *byteReader) readCount() (uint32, error) {
	var v uint32
	err := b.read(&v)
	return v, err
}

func (b *byteReader) readString() (string, error) {
	n, err := b.readCount()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// Encode writes p in the format Decode reads back.
func Encode(w io.Writer, p *Program) error {
	bw := &byteWriter{w: w}
	if err := bw.write(magicNumber); err != nil {
		return err
	}
	if err := bw.write(formatVersion); err != nil {
		return err
	}

	if err := bw.writeCount(uint32(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := encodeConstant(bw, c); err != nil {
			return err
		}
	}

	if err := bw.writeCount(uint32(len(p.Symbols))); err != nil {
		return err
	}
	for name, sym := range p.Symbols {
		if err := bw.writeString(name); err != nil {
			return err
		}
		isGlobal := byte(0)
		if sym.IsGlobal {
			isGlobal = 1
		}
		if err := bw.writeByte(isGlobal); err != nil {
			return err
		}
		if err := bw.write(int32(sym.Index)); err != nil {
			return err
		}
	}

	if err := bw.writeCount(uint32(len(p.FuncOrder))); err != nil {
		return err
	}
	for _, f := range p.FuncOrder {
		if err := encodeFunction(bw, f); err != nil {
			return err
		}
	}

	types := make([]*TypeDescriptor, 0, len(p.Types))
	for _, t := range p.Types {
		types = append(types, t)
	}
	if err := bw.writeCount(uint32(len(types))); err != nil {
		return err
	}
	for _, t := range types {
		if err := encodeType(bw, t); err != nil {
			return err
		}
	}

	if err := bw.writeCount(uint32(len(p.Code))); err != nil {
		return err
	}
	_, err := bw.w.Write(p.Code)
	return err
}

func encodeConstant(bw *byteWriter, v api.Value) error {
	switch v.Kind {
	case api.KindNull:
		return bw.writeByte(constTagNull)
	case api.KindBool:
		if err := bw.writeByte(constTagBool); err != nil {
			return err
		}
		b := byte(0)
		if v.B {
			b = 1
		}
		return bw.writeByte(b)
	case api.KindInt32:
		if err := bw.writeByte(constTagInt32); err != nil {
			return err
		}
		return bw.write(v.I32)
	case api.KindInt64:
		if err := bw.writeByte(constTagInt64); err != nil {
			return err
		}
		return bw.write(v.I64)
	case api.KindFloat32:
		if err := bw.writeByte(constTagFloat32); err != nil {
			return err
		}
		return bw.write(math.Float32bits(v.F32))
	case api.KindFloat64:
		if err := bw.writeByte(constTagFloat64); err != nil {
			return err
		}
		return bw.write(math.Float64bits(v.F64))
	case api.KindString:
		if err := bw.writeByte(constTagString); err != nil {
			return err
		}
		return bw.writeString(v.Str)
	default:
		return fmt.Errorf("program: constant kind %s is not poolable", v.Kind)
	}
}

func encodeFunction(bw *byteWriter, f *Function) error {
	if err := bw.writeString(f.Name); err != nil {
		return err
	}
	if err := bw.write(int32(f.StartOffset)); err != nil {
		return err
	}
	if err := bw.write(int32(f.EndOffset)); err != nil {
		return err
	}
	if err := bw.write(int32(f.ParameterCount)); err != nil {
		return err
	}
	if err := bw.write(int32(f.LocalCount)); err != nil {
		return err
	}
	flags := byte(0)
	if f.IsAsync {
		flags |= 0x1
	}
	if f.IsGenerator {
		flags |= 0x2
	}
	if err := bw.writeByte(flags); err != nil {
		return err
	}
	if err := bw.writeCount(uint32(len(f.ParameterNames))); err != nil {
		return err
	}
	for _, n := range f.ParameterNames {
		if err := bw.writeString(n); err != nil {
			return err
		}
	}
	if err := bw.writeCount(uint32(len(f.Handlers))); err != nil {
		return err
	}
	for _, h := range f.Handlers {
		for _, v := range []int32{int32(h.TryStart), int32(h.TryEnd), int32(h.CatchStart), int32(h.FinallyStart)} {
			if err := bw.write(v); err != nil {
				return err
			}
		}
		if err := bw.writeString(h.ExceptionType); err != nil {
			return err
		}
	}
	return nil
}

func encodeType(bw *byteWriter, t *TypeDescriptor) error {
	if err := bw.writeString(t.Name); err != nil {
		return err
	}
	if err := bw.writeString(t.BaseName); err != nil {
		return err
	}
	isValue := byte(0)
	if t.IsValue {
		isValue = 1
	}
	if err := bw.writeByte(isValue); err != nil {
		return err
	}
	if err := bw.writeCount(uint32(len(t.Fields))); err != nil {
		return err
	}
	for _, fld := range t.Fields {
		if err := bw.writeString(fld); err != nil {
			return err
		}
	}
	if err := bw.writeCount(uint32(len(t.Members))); err != nil {
		return err
	}
	for _, m := range t.Members {
		if err := bw.writeString(m.Name); err != nil {
			return err
		}
		if err := bw.writeByte(byte(m.Kind)); err != nil {
			return err
		}
		if err := bw.write(int32(m.Slot)); err != nil {
			return err
		}
		if err := bw.writeString(m.FuncName); err != nil {
			return err
		}
		virt := byte(0)
		if m.IsVirtual {
			virt = 1
		}
		if err := bw.writeByte(virt); err != nil {
			return err
		}
	}
	return nil
}

type byteWriter struct{ w io.Writer }

func (b *byteWriter) write(v any) error { return binary.Write(b.w, binary.LittleEndian, v) }

func (b *byteWriter) writeByte(v byte) error {
	_, err := b.w.Write([]byte{v})
	return err
}

func (b *byteWriter) writeCount(v uint32) error { return b.write(v) }

func (b *byteWriter) writeString(s string) error {
	if err := b.writeCount(uint32(len(s))); err != nil {
		return err
	}
	_, err := b.w.Write([]byte(s))
	return err
}

// EncodeToBytes is a convenience wrapper used by tests and embedders that
// want an in-memory round trip.
func EncodeToBytes(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
