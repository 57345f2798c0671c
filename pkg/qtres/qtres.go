// Package qtres reads the compiled Qt resource archive embedded in an
// application binary.
//
// An archive is three byte arrays compiled into the program: a name table,
// a tree table of directory/file nodes, and a data table holding the blob
// payloads. Node records reference names by name-table offset and encode the
// directory hierarchy as (first child index, child count) ranges over the
// flat node table.
package qtres

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/skoehler/sigrok-util/pkg/binrec"
	"github.com/skoehler/sigrok-util/pkg/elfsym"
)

// Mangled names of the static resource tables compiled into the binary.
const (
	SymData   = "_ZL16qt_resource_data"
	SymName   = "_ZL16qt_resource_name"
	SymStruct = "_ZL18qt_resource_struct"
)

// Node flag bits.
const (
	flagCompressed = 0x01
	flagDirectory  = 0x02
)

var (
	// ErrNotDirectory indicates a tree walk into a node without the
	// directory flag.
	ErrNotDirectory = errors.New("resource node is not a directory")
	// ErrNotFound indicates a resource path absent from the archive.
	ErrNotFound = errors.New("resource not found")
)

// node is one decoded tree-table record.
type node struct {
	name  string
	flags uint16

	// directory nodes
	childCount uint32
	firstChild uint32

	// file nodes
	country  uint16
	language uint16
	dataOff  uint32
}

func (n *node) isDir() bool {
	return n.flags&flagDirectory != 0
}

// Resources is a parsed archive: a flat mapping from slash-joined resource
// paths to data-table offsets. Immutable after New.
type Resources struct {
	data  []byte
	names []byte

	offsets map[string]uint32
	order   []string // insertion order of offsets keys
}

// FromELF locates the three resource table symbols in f and parses them.
func FromELF(f *elfsym.File) (*Resources, error) {
	data, err := f.SymbolBytes(SymData)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource data table: %w", err)
	}
	names, err := f.SymbolBytes(SymName)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource name table: %w", err)
	}
	tree, err := f.SymbolBytes(SymStruct)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource tree table: %w", err)
	}
	return New(data, names, tree)
}

// New parses the three resource tables and walks the tree into a flat path
// mapping. Entry 0 of the tree table must be a directory. Duplicate paths
// overwrite; the last occurrence wins.
func New(data, names, tree []byte) (*Resources, error) {
	r := &Resources{
		data:    data,
		names:   names,
		offsets: make(map[string]uint32),
	}
	table, err := r.readTable(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resource tree: %w", err)
	}
	if len(table) > 0 {
		if err := r.walk(table, 0, nil, make([]bool, len(table))); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Get returns the payload bytes of the resource at path.
func (r *Resources) Get(path string) ([]byte, error) {
	off, ok := r.offsets[path]
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrNotFound)
	}
	return r.readData(off)
}

// FindNames returns all resource paths matching re at their start, in the
// order the tree walk recorded them. The slice is rebuilt on every call.
func (r *Resources) FindNames(re *regexp.Regexp) []string {
	var found []string
	for _, path := range r.order {
		if loc := re.FindStringIndex(path); loc != nil && loc[0] == 0 {
			found = append(found, path)
		}
	}
	return found
}

// Names returns all resource paths in the order the tree walk recorded them.
func (r *Resources) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// readName decodes the display name at off in the name table: a 16-bit
// character count, a 32-bit hash (unused here) and UTF-16BE text.
func (r *Resources) readName(off uint32) (string, error) {
	vals, n, err := binrec.Unpack(r.names, int(off), 2, 4)
	if err != nil {
		return "", fmt.Errorf("failed to read name at %#x: %w", off, err)
	}
	length := int(vals[0])
	raw := binrec.NewReader(r.names, int(off)+n)
	units := make([]uint16, length)
	for i := range units {
		units[i] = raw.U16()
	}
	if err := raw.Err(); err != nil {
		return "", fmt.Errorf("failed to read name at %#x: %w", off, err)
	}
	return string(utf16.Decode(units)), nil
}

// readData decodes the payload at off in the data table: a 32-bit length
// followed by that many bytes.
func (r *Resources) readData(off uint32) ([]byte, error) {
	raw := binrec.NewReader(r.data, int(off))
	length := raw.U32()
	payload := raw.Bytes(int(length))
	if err := raw.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data at %#x: %w", off, err)
	}
	return payload, nil
}

// readTable decodes the whole tree table into a flat node slice. Record
// layout after the common 6-byte header depends on the directory flag, so a
// running cursor is kept rather than a fixed stride.
func (r *Resources) readTable(tree []byte) ([]node, error) {
	var table []node
	raw := binrec.NewReader(tree, 0)
	for raw.Remaining() > 0 {
		var n node
		nameOff := raw.U32()
		n.flags = raw.U16()
		if n.isDir() {
			n.childCount = raw.U32()
			n.firstChild = raw.U32()
		} else {
			n.country = raw.U16()
			n.language = raw.U16()
			n.dataOff = raw.U32()
		}
		if err := raw.Err(); err != nil {
			return nil, err
		}
		name, err := r.readName(nameOff)
		if err != nil {
			return nil, err
		}
		n.name = name
		table = append(table, n)
	}
	return table, nil
}

// walk records every file reachable from the directory node at index,
// prefixing names with the accumulated ancestor path. visited guards against
// child ranges that loop back to a node already on the walk.
func (r *Resources) walk(table []node, index uint32, ancestors []string, visited []bool) error {
	dir := &table[index]
	if !dir.isDir() {
		return fmt.Errorf("node %d (%q): %w", index, dir.name, ErrNotDirectory)
	}
	if visited[index] {
		return fmt.Errorf("node %d (%q): directory cycle in tree table", index, dir.name)
	}
	visited[index] = true
	end := uint64(dir.firstChild) + uint64(dir.childCount)
	if end > uint64(len(table)) {
		return fmt.Errorf("node %d (%q): children [%d, %d) outside table of %d entries",
			index, dir.name, dir.firstChild, end, len(table))
	}
	for i := dir.firstChild; i < dir.firstChild+dir.childCount; i++ {
		child := &table[i]
		path := append(ancestors, child.name)
		if child.isDir() {
			if err := r.walk(table, i, path, visited); err != nil {
				return err
			}
			continue
		}
		full := strings.Join(path, "/")
		if _, dup := r.offsets[full]; !dup {
			r.order = append(r.order, full)
		}
		r.offsets[full] = child.dataOff
	}
	return nil
}
