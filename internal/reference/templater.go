package reference

import (
	"fmt"
	"strings"

	"github.com/vk/atomflow/internal/dataset"
)

// PlainTemplater renders inputs for programs that take coordinates as
// one "symbol x y z" line per atom. It substitutes three marker kinds in
// the base input:
//
//	@COORDINATES@   the atom lines
//	@CELL@          three "x y z" lattice vector lines
//	@FILE:name@     the on-disk path of the auxiliary data file "name"
type PlainTemplater struct{}

func (PlainTemplater) Render(base string, c *dataset.Configuration, dataPaths map[string]string) (string, error) {
	var coords strings.Builder
	for i, p := range c.Positions {
		symbol, err := dataset.Symbol(c.Numbers[i])
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&coords, "%s %.10f %.10f %.10f\n", symbol, p[0], p[1], p[2])
	}
	out := strings.ReplaceAll(base, "@COORDINATES@", strings.TrimRight(coords.String(), "\n"))

	if strings.Contains(out, "@CELL@") {
		if !c.Periodic() {
			return "", fmt.Errorf("input requires a cell but the structure is not periodic")
		}
		var cell strings.Builder
		for _, row := range c.Cell {
			fmt.Fprintf(&cell, "%.10f %.10f %.10f\n", row[0], row[1], row[2])
		}
		out = strings.ReplaceAll(out, "@CELL@", strings.TrimRight(cell.String(), "\n"))
	}

	for key, path := range dataPaths {
		out = strings.ReplaceAll(out, "@FILE:"+key+"@", path)
	}
	if i := strings.Index(out, "@FILE:"); i >= 0 {
		end := strings.Index(out[i+1:], "@")
		return "", fmt.Errorf("input references unknown data file marker %s", out[i:i+end+2])
	}
	return out, nil
}
