package extract_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"regexp"
	"testing"
	"unicode/utf16"

	"github.com/skoehler/sigrok-util/pkg/extract"
	"github.com/skoehler/sigrok-util/pkg/qtres"
)

// buildArchive packs the given resources under a res/ directory into the
// three-table archive encoding.
func buildArchive(t *testing.T, names []string, blobs [][]byte) *qtres.Resources {
	t.Helper()

	var nameTab, treeTab, dataTab bytes.Buffer
	addName := func(s string) uint32 {
		off := uint32(nameTab.Len())
		units := utf16.Encode([]rune(s))
		binary.Write(&nameTab, binary.BigEndian, uint16(len(units)))
		binary.Write(&nameTab, binary.BigEndian, uint32(0))
		for _, u := range units {
			binary.Write(&nameTab, binary.BigEndian, u)
		}
		return off
	}
	addDir := func(nameOff, count, first uint32) {
		binary.Write(&treeTab, binary.BigEndian, nameOff)
		binary.Write(&treeTab, binary.BigEndian, uint16(0x02))
		binary.Write(&treeTab, binary.BigEndian, count)
		binary.Write(&treeTab, binary.BigEndian, first)
	}

	addDir(addName(""), 1, 1)
	addDir(addName("res"), uint32(len(names)), 2)
	for i, name := range names {
		dataOff := uint32(dataTab.Len())
		binary.Write(&dataTab, binary.BigEndian, uint32(len(blobs[i])))
		dataTab.Write(blobs[i])

		binary.Write(&treeTab, binary.BigEndian, addName(name))
		binary.Write(&treeTab, binary.BigEndian, uint16(0))
		binary.Write(&treeTab, binary.BigEndian, uint16(0))
		binary.Write(&treeTab, binary.BigEndian, uint16(0))
		binary.Write(&treeTab, binary.BigEndian, dataOff)
	}

	r, err := qtres.New(dataTab.Bytes(), nameTab.Bytes(), treeTab.Bytes())
	if err != nil {
		t.Fatalf("failed to build archive: %v", err)
	}
	return r
}

// collect is a WriteFunc storing extractions in a map.
type collect map[string][]byte

func (c collect) write(name string, data []byte) error {
	c[name] = data
	return nil
}

func TestOnePadding(t *testing.T) {
	res := buildArchive(t, []string{"blob"}, [][]byte{{1, 2, 3, 4, 5}})

	t.Run("PadToEight", func(t *testing.T) {
		out := collect{}
		ex := &extract.Extractor{Res: res, Write: out.write}
		if err := ex.One("res/blob", "out", extract.Options{PadTo: 8}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []byte{1, 2, 3, 4, 5, 0, 0, 0}
		if !bytes.Equal(out["out"], want) {
			t.Errorf("expected % x, got % x", want, out["out"])
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		out := collect{}
		ex := &extract.Extractor{Res: res, Write: out.write}
		err := ex.One("res/blob", "out", extract.Options{PadTo: 3})
		if !errors.Is(err, extract.ErrPaddingOverflow) {
			t.Fatalf("expected ErrPaddingOverflow, got %v", err)
		}
		if len(out) != 0 {
			t.Error("expected nothing written on overflow")
		}
	})
}

func TestOneDecodeHex(t *testing.T) {
	hexText := []byte(":0100000001FE\n:00000001FF\n")
	raw := []byte{0x90, 0x01, 0x02}
	res := buildArchive(t, []string{"mcu.fw", "fpga.bin"}, [][]byte{hexText, raw})

	out := collect{}
	ex := &extract.Extractor{Res: res, Write: out.write}

	if err := ex.One("res/mcu.fw", "mcu", extract.Options{DecodeHex: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out["mcu"], []byte{0x01}) {
		t.Errorf("expected decoded image, got % x", out["mcu"])
	}

	// Binary data sails through the sniffer untouched.
	if err := ex.One("res/fpga.bin", "fpga", extract.Options{DecodeHex: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out["fpga"], raw) {
		t.Errorf("expected raw bytes, got % x", out["fpga"])
	}
}

func TestOneNotFound(t *testing.T) {
	res := buildArchive(t, []string{"blob"}, [][]byte{{1}})
	ex := &extract.Extractor{Res: res, Write: collect{}.write}
	if err := ex.One("res/absent", "out", extract.Options{}); !errors.Is(err, qtres.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPattern(t *testing.T) {
	res := buildArchive(t,
		[]string{"DSLogicPro.bin", "DSLogic50.bin", "README"},
		[][]byte{{0xaa}, {0xbb}, {0xcc}})

	out := collect{}
	ex := &extract.Extractor{Res: res, Write: out.write}
	re := regexp.MustCompile(`^res/(DSLogic[^/]*)\.bin$`)
	if err := ex.Pattern(re, "dreamsourcelab-%s-fpga.bitstream", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string][]byte{
		"dreamsourcelab-dslogicpro-fpga.bitstream": {0xaa},
		"dreamsourcelab-dslogic50-fpga.bitstream":  {0xbb},
	}
	if len(out) != len(want) {
		t.Fatalf("expected %d file(s), got %v", len(want), out)
	}
	for name, data := range want {
		if !bytes.Equal(out[name], data) {
			t.Errorf("%s: expected % x, got % x", name, data, out[name])
		}
	}
}

func TestPatternWriteError(t *testing.T) {
	res := buildArchive(t, []string{"DSLogic.bin"}, [][]byte{{1}})
	wantErr := errors.New("disk full")
	ex := &extract.Extractor{
		Res:   res,
		Write: func(string, []byte) error { return wantErr },
	}
	re := regexp.MustCompile(`^res/(DSLogic[^/]*)\.bin$`)
	if err := ex.Pattern(re, "out-%s", false); !errors.Is(err, wantErr) {
		t.Fatalf("expected write error to propagate, got %v", err)
	}
}
