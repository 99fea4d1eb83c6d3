// strata-inspect dumps blocks and structures from a map file and its
// structure index+data pair. It is the quick sanity check used when a map
// or structure set has been regenerated.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tilecraft/strata"
)

func main() {
	pflag.String("map", "", "map file to inspect")
	pflag.Int("width", 0, "map width in cells")
	pflag.Int("height", 0, "map height in cells")
	pflag.Int("bx", -1, "block x to dump (requires --by)")
	pflag.Int("by", -1, "block y to dump (requires --bx)")
	pflag.String("index", "", "structure index file")
	pflag.String("data", "", "structure data file")
	pflag.Int("id", -1, "structure id to dump")
	pflag.String("log-file", "", "also write logs to this rotating file")
	pflag.Bool("verbose", false, "enable debug logging")
	pflag.Parse()

	viper.SetEnvPrefix("STRATA")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "bind flags: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	if viper.GetBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	if logFile := viper.GetString("log-file"); logFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
		}))
	}

	ran := false
	if viper.GetString("map") != "" {
		inspectMap(log)
		ran = true
	}
	if viper.GetString("index") != "" || viper.GetString("data") != "" {
		inspectStructures(log)
		ran = true
	}
	if !ran {
		pflag.Usage()
		os.Exit(1)
	}
}

func inspectMap(log *logrus.Logger) {
	m, err := strata.Open(strata.Options{
		Path:   viper.GetString("map"),
		Width:  viper.GetInt("width"),
		Height: viper.GetInt("height"),
		Logger: log,
	})
	if err != nil {
		log.Fatalf("open map: %v", err)
	}
	defer m.Close()

	fmt.Printf("map: %s\n", viper.GetString("map"))
	fmt.Printf("dimensions: %dx%d cells (%dx%d blocks)\n",
		m.Width(), m.Height(),
		m.Width()/strata.BlockWidth, m.Height()/strata.BlockHeight)

	bx, by := viper.GetInt("bx"), viper.GetInt("by")
	if bx < 0 || by < 0 {
		return
	}

	fmt.Printf("\nblock (%d,%d):\n", bx, by)
	for ly := 0; ly < strata.BlockHeight; ly++ {
		for lx := 0; lx < strata.BlockWidth; lx++ {
			cell, err := m.Cell(bx*strata.BlockWidth+lx, by*strata.BlockHeight+ly)
			if err != nil {
				log.Fatalf("read cell: %v", err)
			}
			if cell == nil {
				log.Fatalf("block (%d,%d) is outside the map", bx, by)
			}
			fmt.Printf("  0x%04X/%+4d", cell.TileID(), cell.Elevation())
		}
		fmt.Println()
	}
}

func inspectStructures(log *logrus.Logger) {
	lib, err := strata.LoadStructures(strata.StructureOptions{
		IndexPath: viper.GetString("index"),
		DataPath:  viper.GetString("data"),
		Logger:    log,
	})
	if err != nil {
		log.Fatalf("load structures: %v", err)
	}
	defer lib.Close()

	fmt.Printf("\nstructure index: %d slots\n", lib.Count())

	valid := 0
	for id := 0; id < lib.Count(); id++ {
		if lib.IsValid(uint32(id)) {
			valid++
		}
	}
	fmt.Printf("populated slots: %d\n", valid)

	id := viper.GetInt("id")
	if id < 0 {
		return
	}

	comps, err := lib.Components(uint32(id))
	if err != nil {
		log.Fatalf("structure %d: %v", id, err)
	}
	fmt.Printf("\nstructure %d: %d components\n", id, len(comps))
	for i, c := range comps {
		vis := " "
		if c.Visible() {
			vis = "v"
		}
		fmt.Printf("  [%3d] %s tile 0x%04X at (%+d,%+d,%+d)\n",
			i, vis, c.TileID, c.OffsetX, c.OffsetY, c.OffsetZ)
	}
}
