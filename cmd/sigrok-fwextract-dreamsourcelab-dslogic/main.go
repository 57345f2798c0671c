// sigrok-fwextract-dreamsourcelab-dslogic extracts the DSLogic FPGA
// bitstreams and MCU firmware bundled inside the DSView executable's
// embedded resource archive and writes them to the working directory.
package main

import (
	"fmt"
	"os"
	"regexp"

	"github.com/skoehler/sigrok-util/pkg/elfsym"
	"github.com/skoehler/sigrok-util/pkg/extract"
	"github.com/skoehler/sigrok-util/pkg/qtres"
)

var (
	// FPGA bitstreams ship as raw binary resources, MCU firmware as
	// hex-record text that decodes to the flashable image.
	reBitstream = regexp.MustCompile(`^res/(DSLogic[^/]*)\.bin$`)
	reFirmware  = regexp.MustCompile(`^res/(DSLogic[^/]*)\.fw$`)
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <dsview-executable>\n", os.Args[0])
		return
	}

	f, err := elfsym.Open(os.Args[1])
	if err != nil {
		fatal(err)
	}
	f.Warn = func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
	}

	res, err := qtres.FromELF(f)
	if err != nil {
		fatal(err)
	}

	ex := &extract.Extractor{Res: res, Write: writeFile}
	if err := ex.Pattern(reBitstream, "dreamsourcelab-%s-fpga.bitstream", false); err != nil {
		fatal(err)
	}
	if err := ex.Pattern(reFirmware, "dreamsourcelab-%s.fw", true); err != nil {
		fatal(err)
	}
}

func writeFile(name string, data []byte) error {
	if err := os.WriteFile(name, data, 0644); err != nil {
		return err
	}
	fmt.Printf("saved %d bytes to %s\n", len(data), name)
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
