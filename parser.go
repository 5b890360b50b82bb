// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "encoding/binary"

const (
	structVecSizeCap = 100 * 1024 * 1024 // 100MB sanity limit, mirrors read_struct_vec_at_offset
	typeListSizeCap  = 0xFFFF
)

// StringID, TypeID, ProtoID, FieldID, MethodID and ClassDef mirror the AOSP
// dex_structs layout byte-for-byte; a Parser reads them by plain offset
// arithmetic rather than reinterpret-casting raw bytes (no Go analogue of
// bytemuck::Pod is reached for here, since each struct's wire layout is
// smaller and differently aligned than its Go field layout would be).
type StringID struct {
	StringDataOff uint32
}

type TypeID struct {
	DescriptorIdx uint32
}

type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

// CodeItemHeader is the fixed prefix of a code_item (§3.3).
type CodeItemHeader struct {
	RegistersSize       uint16
	InsSize             uint16
	OutsSize            uint16
	TriesSize           uint16
	DebugInfoOff        uint32
	InsnsSizeInCodeUnits uint32
}

// CodeItem is a parsed method body: the fixed header plus its raw
// instruction stream, copied out as 16-bit code units.
type CodeItem struct {
	Header CodeItemHeader
	Insns  []uint16
}

// ParsedMethod is one fully resolved method record (§3.3).
type ParsedMethod struct {
	ID         MethodID
	ClassName  string
	MethodName string
	// Signature is the full descriptor, e.g. "(Ljava/lang/String;)V".
	Signature string
	// CodeItem is nil for abstract and native methods.
	CodeItem *CodeItem
}

// ParsedDex is the fully materialized DEX image (§3.3).
type ParsedDex struct {
	BaseAddr uintptr
	Header   DexHeader

	StringIDs []StringID
	TypeIDs   []TypeID
	ProtoIDs  []ProtoID
	FieldIDs  []FieldID
	MethodIDs []MethodID
	ClassDefs []ClassDef

	// Strings maps string_id index to its decoded MUTF-8 value.
	Strings map[uint32]string
	// TypeNames maps type_id index to its descriptor string.
	TypeNames map[uint32]string

	Methods []ParsedMethod
}

// Parser reconstructs a ParsedDex from non-contiguous remote reads (C4).
type Parser struct {
	src      Source
	baseAddr uintptr
	// sizeCap overrides structVecSizeCap when nonzero (§9.3's
	// max_dex_size_bytes tunable).
	sizeCap int
}

// NewParser builds a Parser reading through src, with all offsets resolved
// relative to baseAddr.
func NewParser(src Source, baseAddr uintptr) *Parser {
	return &Parser{src: src, baseAddr: baseAddr}
}

// WithSizeCap overrides the parser's bulk-read sanity cap (normally
// structVecSizeCap) and returns the receiver for chaining.
func (p *Parser) WithSizeCap(n int) *Parser {
	if n > 0 {
		p.sizeCap = n
	}
	return p
}

func (p *Parser) maxVecSize() int {
	if p.sizeCap > 0 {
		return p.sizeCap
	}
	return structVecSizeCap
}

// ParseDexAt is the package-level entry point callers use once the scanner
// has located and verified a header: it re-reads the header at baseAddr and
// drives the full parse.
func ParseDexAt(src Source, baseAddr uintptr) (*ParsedDex, error) {
	return ParseDexAtWithSizeCap(src, baseAddr, 0)
}

// ParseDexAtWithSizeCap is ParseDexAt with the bulk-read sanity cap
// overridden to sizeCap bytes (0 keeps structVecSizeCap), the entry point
// the orchestrator uses to honor the max_dex_size_bytes tunable (§9.3).
func ParseDexAtWithSizeCap(src Source, baseAddr uintptr, sizeCap int) (*ParsedDex, error) {
	raw, err := readExact(src, baseAddr, headerSize)
	if err != nil {
		return nil, err
	}
	header := decodeHeader(raw)
	if version, ok := hasDexMagic(raw); ok {
		header.Version = version
	} else {
		header.Version = "unknown(wiped)"
	}
	return NewParser(src, baseAddr).WithSizeCap(sizeCap).Parse(header)
}

// Parse runs the full parse orchestration: index tables, string/type pools,
// method records, then class-data-item/code-item linking.
func (p *Parser) Parse(header DexHeader) (*ParsedDex, error) {
	out := &ParsedDex{
		BaseAddr:  p.baseAddr,
		Header:    header,
		Strings:   make(map[uint32]string),
		TypeNames: make(map[uint32]string),
	}

	stringIDs, err := readStringIDs(p, header)
	if err != nil {
		return nil, err
	}
	out.StringIDs = stringIDs
	for i, id := range stringIDs {
		if id.StringDataOff == 0 {
			continue
		}
		if s, _, err := p.readStringData(uintptr(id.StringDataOff)); err == nil {
			out.Strings[uint32(i)] = s
		}
	}

	typeIDs, err := readTypeIDs(p, header)
	if err != nil {
		return nil, err
	}
	out.TypeIDs = typeIDs
	for i, id := range typeIDs {
		if s, ok := out.Strings[id.DescriptorIdx]; ok {
			out.TypeNames[uint32(i)] = s
		}
	}

	protoIDs, err := readProtoIDs(p, header)
	if err != nil {
		return nil, err
	}
	out.ProtoIDs = protoIDs

	fieldIDs, err := readFieldIDs(p, header)
	if err != nil {
		return nil, err
	}
	out.FieldIDs = fieldIDs

	methodIDs, err := readMethodIDs(p, header)
	if err != nil {
		return nil, err
	}
	out.MethodIDs = methodIDs

	classDefs, err := readClassDefs(p, header)
	if err != nil {
		return nil, err
	}
	out.ClassDefs = classDefs

	out.Methods = make([]ParsedMethod, len(methodIDs))
	for i, id := range methodIDs {
		className, ok := out.TypeNames[uint32(id.ClassIdx)]
		if !ok {
			className = "??"
		}
		methodName, ok := out.Strings[id.NameIdx]
		if !ok {
			methodName = "??"
		}
		signature := "()?"
		if int(id.ProtoIdx) < len(protoIDs) {
			signature = p.protoString(protoIDs[id.ProtoIdx], out.TypeNames)
		}
		out.Methods[i] = ParsedMethod{
			ID:         id,
			ClassName:  className,
			MethodName: methodName,
			Signature:  signature,
		}
	}

	methodCode := make(map[uint32]*CodeItem)
	for _, def := range classDefs {
		if def.ClassDataOff == 0 {
			continue
		}
		p.parseClassData(uintptr(def.ClassDataOff), methodCode)
	}
	for i := range out.Methods {
		if code, ok := methodCode[uint32(i)]; ok {
			out.Methods[i].CodeItem = code
		}
	}

	return out, nil
}

func readStringIDs(p *Parser, h DexHeader) ([]StringID, error) {
	out := make([]StringID, h.StringIDsSize)
	return out, p.readStructVec(uintptr(h.StringIDsOff), out, 4)
}

func readTypeIDs(p *Parser, h DexHeader) ([]TypeID, error) {
	out := make([]TypeID, h.TypeIDsSize)
	return out, p.readStructVec(uintptr(h.TypeIDsOff), out, 4)
}

func readProtoIDs(p *Parser, h DexHeader) ([]ProtoID, error) {
	ids := make([]ProtoID, h.ProtoIDsSize)
	total, err := p.checkedMul(len(ids), 12)
	if err != nil {
		return nil, err
	}
	buf, err := p.readBytes(uintptr(h.ProtoIDsOff), total)
	if err != nil {
		return nil, err
	}
	for i := range ids {
		off := i * 12
		ids[i] = ProtoID{
			ShortyIdx:     binary.LittleEndian.Uint32(buf[off:]),
			ReturnTypeIdx: binary.LittleEndian.Uint32(buf[off+4:]),
			ParametersOff: binary.LittleEndian.Uint32(buf[off+8:]),
		}
	}
	return ids, nil
}

func readFieldIDs(p *Parser, h DexHeader) ([]FieldID, error) {
	ids := make([]FieldID, h.FieldIDsSize)
	total, err := p.checkedMul(len(ids), 8)
	if err != nil {
		return nil, err
	}
	buf, err := p.readBytes(uintptr(h.FieldIDsOff), total)
	if err != nil {
		return nil, err
	}
	for i := range ids {
		off := i * 8
		ids[i] = FieldID{
			ClassIdx: binary.LittleEndian.Uint16(buf[off:]),
			TypeIdx:  binary.LittleEndian.Uint16(buf[off+2:]),
			NameIdx:  binary.LittleEndian.Uint32(buf[off+4:]),
		}
	}
	return ids, nil
}

func readMethodIDs(p *Parser, h DexHeader) ([]MethodID, error) {
	ids := make([]MethodID, h.MethodIDsSize)
	total, err := p.checkedMul(len(ids), 8)
	if err != nil {
		return nil, err
	}
	buf, err := p.readBytes(uintptr(h.MethodIDsOff), total)
	if err != nil {
		return nil, err
	}
	for i := range ids {
		off := i * 8
		ids[i] = MethodID{
			ClassIdx: binary.LittleEndian.Uint16(buf[off:]),
			ProtoIdx: binary.LittleEndian.Uint16(buf[off+2:]),
			NameIdx:  binary.LittleEndian.Uint32(buf[off+4:]),
		}
	}
	return ids, nil
}

func readClassDefs(p *Parser, h DexHeader) ([]ClassDef, error) {
	defs := make([]ClassDef, h.ClassDefsSize)
	total, err := p.checkedMul(len(defs), 32)
	if err != nil {
		return nil, err
	}
	buf, err := p.readBytes(uintptr(h.ClassDefsOff), total)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		off := i * 32
		defs[i] = ClassDef{
			ClassIdx:        binary.LittleEndian.Uint32(buf[off:]),
			AccessFlags:     binary.LittleEndian.Uint32(buf[off+4:]),
			SuperclassIdx:   binary.LittleEndian.Uint32(buf[off+8:]),
			InterfacesOff:   binary.LittleEndian.Uint32(buf[off+12:]),
			SourceFileIdx:   binary.LittleEndian.Uint32(buf[off+16:]),
			AnnotationsOff:  binary.LittleEndian.Uint32(buf[off+20:]),
			ClassDataOff:    binary.LittleEndian.Uint32(buf[off+24:]),
			StaticValuesOff: binary.LittleEndian.Uint32(buf[off+28:]),
		}
	}
	return defs, nil
}

// readStructVec bulk-reads a flat array of 4-byte fields (StringID/TypeID
// are the only single-uint32 records) and decodes it in place.
func (p *Parser) readStructVec(offset uintptr, out interface{}, elemSize int) error {
	var n int
	switch v := out.(type) {
	case []StringID:
		n = len(v)
	case []TypeID:
		n = len(v)
	default:
		return ErrOverflow
	}
	total, err := p.checkedMul(n, elemSize)
	if err != nil {
		return err
	}
	buf, err := p.readBytes(offset, total)
	if err != nil {
		return err
	}
	switch v := out.(type) {
	case []StringID:
		for i := range v {
			v[i] = StringID{StringDataOff: binary.LittleEndian.Uint32(buf[i*4:])}
		}
	case []TypeID:
		for i := range v {
			v[i] = TypeID{DescriptorIdx: binary.LittleEndian.Uint32(buf[i*4:])}
		}
	}
	return nil
}

func (p *Parser) checkedMul(count, size int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	total := count * size
	if total/size != count {
		return 0, ErrOverflow
	}
	if total > p.maxVecSize() {
		return 0, ErrOverflow
	}
	return total, nil
}

// readBytes reads size bytes at baseAddr+offset.
func (p *Parser) readBytes(offset uintptr, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return readExact(p.src, p.baseAddr+offset, size)
}

// readULEB128 reads a ULEB128-encoded value starting at *offset (relative to
// baseAddr), advancing *offset past it. Matches AOSP's 32-bit ULEB128: at
// most 5 bytes.
func (p *Parser) readULEB128(offset *uintptr) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := p.readBytes(*offset, 1)
		if err != nil {
			return 0, err
		}
		*offset++
		result |= uint32(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 28 {
			return 0, ErrOverflow
		}
	}
	return result, nil
}

// readStringData reads a MUTF-8 string_data_item: a ULEB128 utf16_size
// followed by a NUL-terminated MUTF-8 byte stream, collapsing the DEX
// encoding of embedded NUL (0xC0 0x80) back to a single 0x00 byte.
func (p *Parser) readStringData(offset uintptr) (string, int, error) {
	cur := offset
	utf16Len, err := p.readULEB128(&cur)
	if err != nil {
		return "", 0, err
	}
	lenBytesRead := int(cur - offset)

	cap := int(utf16Len)*3 + 10
	var raw []byte
	for {
		b, err := p.readBytes(cur, 1)
		if err != nil {
			return "", 0, err
		}
		cur++
		if b[0] == 0 {
			break
		}
		raw = append(raw, b[0])
		if len(raw) > cap {
			return "", 0, ErrOverflow
		}
	}

	decoded := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); {
		if raw[i] == 0xC0 && i+1 < len(raw) && raw[i+1] == 0x80 {
			decoded = append(decoded, 0x00)
			i += 2
			continue
		}
		decoded = append(decoded, raw[i])
		i++
	}

	total := lenBytesRead + int(cur-offset-uintptr(lenBytesRead))
	return string(decoded), total, nil
}

// parseClassData parses one class_data_item, filling methodCode with the
// code items discovered for that class's direct and virtual methods.
// method_idx_diff is a running delta reset independently for the direct and
// virtual method groups, per the DEX encoding.
func (p *Parser) parseClassData(offset uintptr, methodCode map[uint32]*CodeItem) {
	cur := offset
	staticFieldsSize, err := p.readULEB128(&cur)
	if err != nil {
		return
	}
	instanceFieldsSize, err := p.readULEB128(&cur)
	if err != nil {
		return
	}
	directMethodsSize, err := p.readULEB128(&cur)
	if err != nil {
		return
	}
	virtualMethodsSize, err := p.readULEB128(&cur)
	if err != nil {
		return
	}

	for i := uint32(0); i < staticFieldsSize; i++ {
		if _, err := p.readULEB128(&cur); err != nil { // field_idx_diff
			return
		}
		if _, err := p.readULEB128(&cur); err != nil { // access_flags
			return
		}
	}
	for i := uint32(0); i < instanceFieldsSize; i++ {
		if _, err := p.readULEB128(&cur); err != nil {
			return
		}
		if _, err := p.readULEB128(&cur); err != nil {
			return
		}
	}

	var lastMethodIdx uint32
	for i := uint32(0); i < directMethodsSize; i++ {
		diff, err := p.readULEB128(&cur)
		if err != nil {
			return
		}
		if _, err := p.readULEB128(&cur); err != nil { // access_flags
			return
		}
		codeOff, err := p.readULEB128(&cur)
		if err != nil {
			return
		}
		lastMethodIdx += diff
		if codeOff != 0 {
			if code, err := p.parseCodeItem(uintptr(codeOff)); err == nil {
				methodCode[lastMethodIdx] = code
			}
		}
	}

	lastMethodIdx = 0
	for i := uint32(0); i < virtualMethodsSize; i++ {
		diff, err := p.readULEB128(&cur)
		if err != nil {
			return
		}
		if _, err := p.readULEB128(&cur); err != nil {
			return
		}
		codeOff, err := p.readULEB128(&cur)
		if err != nil {
			return
		}
		lastMethodIdx += diff
		if codeOff != 0 {
			if code, err := p.parseCodeItem(uintptr(codeOff)); err == nil {
				methodCode[lastMethodIdx] = code
			}
		}
	}
}

// parseCodeItem reads a code_item's fixed header plus its instruction
// stream.
func (p *Parser) parseCodeItem(offset uintptr) (*CodeItem, error) {
	const headerLen = 16
	raw, err := p.readBytes(offset, headerLen)
	if err != nil {
		return nil, err
	}
	hdr := CodeItemHeader{
		RegistersSize:        binary.LittleEndian.Uint16(raw[0:]),
		InsSize:              binary.LittleEndian.Uint16(raw[2:]),
		OutsSize:             binary.LittleEndian.Uint16(raw[4:]),
		TriesSize:            binary.LittleEndian.Uint16(raw[6:]),
		DebugInfoOff:         binary.LittleEndian.Uint32(raw[8:]),
		InsnsSizeInCodeUnits: binary.LittleEndian.Uint32(raw[12:]),
	}

	insnsBytes, err := p.readBytes(offset+headerLen, int(hdr.InsnsSizeInCodeUnits)*2)
	if err != nil {
		return nil, err
	}
	insns := make([]uint16, hdr.InsnsSizeInCodeUnits)
	for i := range insns {
		insns[i] = binary.LittleEndian.Uint16(insnsBytes[i*2:])
	}

	return &CodeItem{Header: hdr, Insns: insns}, nil
}

// protoString resolves a ProtoID into a readable signature such as
// "(Ljava/lang/String;)V", concatenating parameter descriptors verbatim.
func (p *Parser) protoString(proto ProtoID, types map[uint32]string) string {
	retType, ok := types[proto.ReturnTypeIdx]
	if !ok {
		retType = "??"
	}

	params := "()"
	if proto.ParametersOff != 0 {
		if list, err := p.parseTypeList(uintptr(proto.ParametersOff)); err == nil {
			var sb []byte
			sb = append(sb, '(')
			for _, idx := range list {
				t, ok := types[uint32(idx)]
				if !ok {
					t = "??"
				}
				sb = append(sb, t...)
			}
			sb = append(sb, ')')
			params = string(sb)
		}
	}
	return params + retType
}

// parseTypeList parses a type_list: a uint32 size followed by that many
// uint16 type_idx entries.
func (p *Parser) parseTypeList(offset uintptr) ([]uint16, error) {
	raw, err := p.readBytes(offset, 4)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(raw)
	if size > typeListSizeCap {
		return nil, ErrOverflow
	}
	if size == 0 {
		return nil, nil
	}
	listBytes, err := p.readBytes(offset+4, int(size)*2)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, size)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(listBytes[i*2:])
	}
	return out, nil
}
