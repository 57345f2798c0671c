// Package elfsym implements a minimal ELF reader that resolves named symbols
// to the raw bytes they occupy in their containing section.
//
// It parses only what symbol extraction needs: the ELF header, the section
// header table and the symbol table. There is no relocation or dynamic
// linking support.
package elfsym

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
)

var (
	// ErrMalformed indicates a file that is not a parseable ELF image.
	ErrMalformed = errors.New("malformed ELF file")
	// ErrSectionIndex indicates a section index outside the header table.
	ErrSectionIndex = errors.New("section index out of range")
	// ErrUnknownSymbol indicates a name absent from the symbol table.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// SectionHeader describes one entry of the section header table.
type SectionHeader struct {
	Name   string
	Index  int
	Type   elf.SectionType
	Flags  elf.SectionFlag
	Addr   uint64
	Offset uint64
	Size   uint64
	Link   uint32

	nameOff uint32 // sh_name, resolved into Name after the full table loads
}

// Symbol describes one symbol table entry.
type Symbol struct {
	Name         string
	Value        uint64 // virtual address (st_value)
	Size         uint64 // byte size (st_size)
	SectionIndex int    // containing section (st_shndx)
}

// File is an ELF image indexed for symbol lookup. All tables are parsed at
// load time; section contents are sliced lazily and memoized.
type File struct {
	// Warn, if non-nil, receives diagnostics for recoverable conditions
	// such as a symbol whose declared size runs past its section.
	Warn func(format string, args ...interface{})

	image    []byte
	order    binary.ByteOrder
	class    elf.Class
	sections []SectionHeader
	symbols  map[string]Symbol
	contents map[int][]byte
}

// Open reads and indexes the ELF file at path.
func Open(path string) (*File, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f, err := New(image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// New indexes an in-memory ELF image.
func New(image []byte) (*File, error) {
	f := &File{
		image:    image,
		contents: make(map[int][]byte),
	}
	if err := f.parseIdent(); err != nil {
		return nil, err
	}
	if err := f.parseSections(); err != nil {
		return nil, err
	}
	if err := f.parseSymbols(); err != nil {
		return nil, err
	}
	return f, nil
}

// Class returns the ELF class (32 or 64 bit) of the image.
func (f *File) Class() elf.Class {
	return f.class
}

// ByteOrder returns the byte order of the image.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.order
}

// NumSections returns the number of section header table entries.
func (f *File) NumSections() int {
	return len(f.sections)
}

// Section returns the raw content bytes and header of the section at index.
// Contents are memoized; the underlying image is sliced at most once per
// section.
func (f *File) Section(index int) ([]byte, *SectionHeader, error) {
	if index < 0 || index >= len(f.sections) {
		return nil, nil, fmt.Errorf("section %d of %d: %w", index, len(f.sections), ErrSectionIndex)
	}
	hdr := &f.sections[index]
	if data, ok := f.contents[index]; ok {
		return data, hdr, nil
	}
	var data []byte
	if hdr.Type == elf.SHT_NOBITS {
		// Occupies no file bytes (.bss); read back as zeroes.
		data = make([]byte, hdr.Size)
	} else {
		end := hdr.Offset + hdr.Size
		if end < hdr.Offset || end > uint64(len(f.image)) {
			return nil, nil, fmt.Errorf("section %d content [%#x, %#x) outside file: %w",
				index, hdr.Offset, end, ErrMalformed)
		}
		data = f.image[hdr.Offset:end]
	}
	f.contents[index] = data
	return data, hdr, nil
}

// SectionByName returns the content and header of the first section named name.
func (f *File) SectionByName(name string) ([]byte, *SectionHeader, error) {
	for i := range f.sections {
		if f.sections[i].Name == name {
			return f.Section(i)
		}
	}
	return nil, nil, fmt.Errorf("section %q: %w", name, ErrSectionIndex)
}

// Symbol returns the symbol table entry for name.
func (f *File) Symbol(name string) (Symbol, error) {
	sym, ok := f.symbols[name]
	if !ok {
		return Symbol{}, fmt.Errorf("symbol %q: %w", name, ErrUnknownSymbol)
	}
	return sym, nil
}

// SymbolBytes resolves name in the symbol table and returns the bytes the
// symbol occupies, read from its containing section at
// st_value - section.Addr.
//
// If the symbol's declared size runs past the end of the section content the
// result is truncated to the available bytes and a warning is emitted through
// Warn; this is not an error, so extraction from mildly damaged binaries can
// proceed with whatever bytes exist.
func (f *File) SymbolBytes(name string) ([]byte, error) {
	sym, err := f.Symbol(name)
	if err != nil {
		return nil, err
	}
	data, hdr, err := f.Section(sym.SectionIndex)
	if err != nil {
		return nil, fmt.Errorf("symbol %q: %w", name, err)
	}
	if sym.Value < hdr.Addr {
		return nil, fmt.Errorf("symbol %q address %#x below section %q base %#x: %w",
			name, sym.Value, hdr.Name, hdr.Addr, ErrMalformed)
	}
	off := sym.Value - hdr.Addr
	end := off + sym.Size
	if off > uint64(len(data)) {
		off = uint64(len(data))
	}
	if end > uint64(len(data)) {
		f.warnf("symbol %s: %d byte(s) requested, %d available in section %s",
			name, sym.Size, uint64(len(data))-off, hdr.Name)
		end = uint64(len(data))
	}
	return data[off:end], nil
}

// Symbols returns all named symbol table entries, sorted by name.
func (f *File) Symbols() []Symbol {
	syms := make([]Symbol, 0, len(f.symbols))
	for _, sym := range f.symbols {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Name < syms[j].Name })
	return syms
}

func (f *File) warnf(format string, args ...interface{}) {
	if f.Warn != nil {
		f.Warn(format, args...)
	}
}

// parseIdent validates the e_ident prefix and picks class and byte order.
func (f *File) parseIdent() error {
	if len(f.image) < elf.EI_NIDENT {
		return fmt.Errorf("%d byte(s), no e_ident: %w", len(f.image), ErrMalformed)
	}
	if !bytes.Equal(f.image[:4], []byte(elf.ELFMAG)) {
		return fmt.Errorf("bad magic %q: %w", f.image[:4], ErrMalformed)
	}
	f.class = elf.Class(f.image[elf.EI_CLASS])
	if f.class != elf.ELFCLASS32 && f.class != elf.ELFCLASS64 {
		return fmt.Errorf("unknown ELF class %d: %w", f.image[elf.EI_CLASS], ErrMalformed)
	}
	switch elf.Data(f.image[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		f.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		f.order = binary.BigEndian
	default:
		return fmt.Errorf("unknown ELF data encoding %d: %w", f.image[elf.EI_DATA], ErrMalformed)
	}
	return nil
}

// parseSections reads the section header table and resolves section names
// from the name string table.
func (f *File) parseSections() error {
	var (
		shoff            uint64
		shentsize, shnum int
		shstrndx         int
	)
	r := bytes.NewReader(f.image)
	switch f.class {
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(r, f.order, &hdr); err != nil {
			return fmt.Errorf("failed to read ELF header: %w", ErrMalformed)
		}
		shoff = hdr.Shoff
		shentsize = int(hdr.Shentsize)
		shnum = int(hdr.Shnum)
		shstrndx = int(hdr.Shstrndx)
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := binary.Read(r, f.order, &hdr); err != nil {
			return fmt.Errorf("failed to read ELF header: %w", ErrMalformed)
		}
		shoff = uint64(hdr.Shoff)
		shentsize = int(hdr.Shentsize)
		shnum = int(hdr.Shnum)
		shstrndx = int(hdr.Shstrndx)
	}

	if shnum > 0 && shoff > uint64(len(f.image)) {
		return fmt.Errorf("section header table at %#x outside file: %w", shoff, ErrMalformed)
	}

	f.sections = make([]SectionHeader, shnum)
	for i := 0; i < shnum; i++ {
		off := shoff + uint64(i)*uint64(shentsize)
		end := off + uint64(shentsize)
		if off < shoff || end < off || end > uint64(len(f.image)) {
			return fmt.Errorf("section header %d outside file: %w", i, ErrMalformed)
		}
		r := bytes.NewReader(f.image[off:])
		switch f.class {
		case elf.ELFCLASS64:
			var sh elf.Section64
			if err := binary.Read(r, f.order, &sh); err != nil {
				return fmt.Errorf("failed to read section header %d: %w", i, ErrMalformed)
			}
			f.sections[i] = SectionHeader{
				Index:   i,
				Type:    elf.SectionType(sh.Type),
				Flags:   elf.SectionFlag(sh.Flags),
				Addr:    sh.Addr,
				Offset:  sh.Off,
				Size:    sh.Size,
				Link:    sh.Link,
				nameOff: sh.Name,
			}
		case elf.ELFCLASS32:
			var sh elf.Section32
			if err := binary.Read(r, f.order, &sh); err != nil {
				return fmt.Errorf("failed to read section header %d: %w", i, ErrMalformed)
			}
			f.sections[i] = SectionHeader{
				Index:   i,
				Type:    elf.SectionType(sh.Type),
				Flags:   elf.SectionFlag(sh.Flags),
				Addr:    uint64(sh.Addr),
				Offset:  uint64(sh.Off),
				Size:    uint64(sh.Size),
				Link:    sh.Link,
				nameOff: sh.Name,
			}
		}
	}

	// Names resolve against the shstrndx section, which may appear anywhere
	// in the table, so they are filled in after all headers are parsed.
	for i := range f.sections {
		f.sections[i].Name = f.sectionName(shstrndx, f.sections[i].nameOff)
	}
	return nil
}

// sectionName resolves a sh_name offset against the section name string
// table. Name resolution is best effort; headers parse fine without it.
func (f *File) sectionName(shstrndx int, nameOff uint32) string {
	if shstrndx <= 0 || shstrndx >= len(f.sections) {
		return ""
	}
	strs := f.sections[shstrndx]
	end := strs.Offset + strs.Size
	if end < strs.Offset || end > uint64(len(f.image)) {
		return ""
	}
	return getString(f.image[strs.Offset:end], nameOff)
}

// parseSymbols locates SHT_SYMTAB and builds the name lookup map from its
// entries and the linked string table.
func (f *File) parseSymbols() error {
	f.symbols = make(map[string]Symbol)
	for i := range f.sections {
		if f.sections[i].Type != elf.SHT_SYMTAB {
			continue
		}
		data, hdr, err := f.Section(i)
		if err != nil {
			return fmt.Errorf("failed to read symbol table: %w", err)
		}
		strs, _, err := f.Section(int(hdr.Link))
		if err != nil {
			return fmt.Errorf("failed to read symbol string table: %w", err)
		}
		if err := f.parseSymtab(data, strs); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) parseSymtab(data, strs []byte) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var sym Symbol
		var nameOff uint32
		switch f.class {
		case elf.ELFCLASS64:
			var raw elf.Sym64
			if err := binary.Read(r, f.order, &raw); err != nil {
				return fmt.Errorf("failed to read symbol entry: %w", ErrMalformed)
			}
			nameOff = raw.Name
			sym = Symbol{Value: raw.Value, Size: raw.Size, SectionIndex: int(raw.Shndx)}
		case elf.ELFCLASS32:
			var raw elf.Sym32
			if err := binary.Read(r, f.order, &raw); err != nil {
				return fmt.Errorf("failed to read symbol entry: %w", ErrMalformed)
			}
			nameOff = raw.Name
			sym = Symbol{Value: uint64(raw.Value), Size: uint64(raw.Size), SectionIndex: int(raw.Shndx)}
		}
		sym.Name = getString(strs, nameOff)
		if sym.Name == "" || sym.SectionIndex == int(elf.SHN_UNDEF) {
			continue
		}
		f.symbols[sym.Name] = sym
	}
	return nil
}

// getString extracts the NUL-terminated string at off within a string table.
func getString(strs []byte, off uint32) string {
	if uint64(off) >= uint64(len(strs)) {
		return ""
	}
	idx := bytes.IndexByte(strs[off:], 0)
	if idx == -1 {
		return string(strs[off:])
	}
	return string(strs[off : int(off)+idx])
}
