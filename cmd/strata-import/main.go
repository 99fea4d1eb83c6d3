// strata-import converts a Tiled TMX tile layer into a packed map file.
// The tile gid becomes the cell's tile type; a per-tile "elevation"
// property, when present on the tileset tile, becomes the cell elevation.
package main

import (
	"fmt"
	"os"

	"github.com/lafriks/go-tiled"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tilecraft/strata"
)

func main() {
	pflag.String("tmx", "", "TMX file to import")
	pflag.String("layer", "", "tile layer name (default: first layer)")
	pflag.String("out", "", "output map file")
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

	tmxPath := viper.GetString("tmx")
	outPath := viper.GetString("out")
	if tmxPath == "" || outPath == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if err := importTMX(log, tmxPath, viper.GetString("layer"), outPath); err != nil {
		log.Fatalf("import: %v", err)
	}
}

func importTMX(log *logrus.Logger, tmxPath, layerName, outPath string) error {
	levelMap, err := tiled.LoadFile(tmxPath)
	if err != nil {
		return fmt.Errorf("load TMX %s: %w", tmxPath, err)
	}

	var layer *tiled.Layer
	for _, l := range levelMap.Layers {
		if layerName == "" || l.Name == layerName {
			layer = l
			break
		}
	}
	if layer == nil {
		return fmt.Errorf("layer %q not found in %s", layerName, tmxPath)
	}

	// Round dimensions up to whole blocks; cells past the TMX edge stay zero.
	width := roundUp(levelMap.Width, strata.BlockWidth)
	height := roundUp(levelMap.Height, strata.BlockHeight)
	size := (width / strata.BlockWidth) * (height / strata.BlockHeight) * strata.BlockBytes

	src := strata.NewBlankSource(size)
	m, err := strata.Open(strata.Options{
		Source: src,
		Width:  width,
		Height: height,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	imported := 0
	clampedGIDs := 0
	for y := 0; y < levelMap.Height; y++ {
		for x := 0; x < levelMap.Width; x++ {
			tile := layer.Tiles[y*levelMap.Width+x]
			if tile.IsNil() {
				continue
			}

			tileID, clamped := clampGID(tile.Tileset.FirstGID + tile.ID)
			if clamped {
				clampedGIDs++
			}
			elevation := 0
			if tilesetTile, err := tile.Tileset.GetTilesetTile(tile.ID); err == nil {
				elevation = tilesetTile.Properties.GetInt("elevation")
			}
			if elevation < -128 {
				elevation = -128
			} else if elevation > 127 {
				elevation = 127
			}

			if err := m.SetCell(x, y, tileID, int8(elevation)); err != nil {
				return err
			}
			imported++
		}
	}
	if clampedGIDs > 0 {
		log.Warnf("clamped %d tile gid(s) above %d to the cell tile-type ceiling", clampedGIDs, 0xFFFF)
	}

	if err := m.Flush(); err != nil {
		return err
	}

	if err := os.WriteFile(outPath, src.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	log.Infof("imported %d tiles from %q into %s (%dx%d cells)",
		imported, layer.Name, outPath, width, height)
	return nil
}

// clampGID narrows a TMX global tile id to the 16-bit cell tile type,
// saturating at the ceiling rather than wrapping.
func clampGID(gid uint32) (uint16, bool) {
	if gid > 0xFFFF {
		return 0xFFFF, true
	}
	return uint16(gid), false
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}
