package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Extended-XYZ codec. One frame per configuration, float64 precision,
// comment-line metadata for cell, energy, stress and the reference fields.

// WriteConfigurations writes all frames to w in extended-XYZ format.
func WriteConfigurations(w io.Writer, configs []*Configuration) error {
	bw := bufio.NewWriter(w)
	for _, c := range configs {
		if err := writeFrame(bw, c); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes all frames to the file at path, truncating it.
func WriteFile(path string, configs []*Configuration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteConfigurations(f, configs); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// ReadConfigurations reads every frame from r.
func ReadConfigurations(r io.Reader) ([]*Configuration, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var configs []*Configuration
	for {
		c, ok, err := readFrame(scanner)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// ReadFile reads every frame from the file at path.
func ReadFile(path string) ([]*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	configs, err := ReadConfigurations(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return configs, nil
}

func writeFrame(w *bufio.Writer, c *Configuration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d\n", c.Len())

	fields := []string{}
	if c.Cell != nil {
		cell := *c.Cell
		fields = append(fields, fmt.Sprintf(
			"Lattice=\"%s %s %s %s %s %s %s %s %s\"",
			ftoa(cell[0][0]), ftoa(cell[0][1]), ftoa(cell[0][2]),
			ftoa(cell[1][0]), ftoa(cell[1][1]), ftoa(cell[1][2]),
			ftoa(cell[2][0]), ftoa(cell[2][1]), ftoa(cell[2][2]),
		))
	}
	props := "species:S:1:pos:R:3"
	if c.Forces != nil {
		props += ":forces:R:3"
	}
	fields = append(fields, "Properties="+props)
	if c.Energy != nil {
		fields = append(fields, "energy="+ftoa(*c.Energy))
	}
	if c.Stress != nil {
		stress := *c.Stress
		parts := make([]string, 0, 9)
		for _, row := range stress {
			for _, v := range row {
				parts = append(parts, ftoa(v))
			}
		}
		fields = append(fields, "stress=\""+strings.Join(parts, " ")+"\"")
	}
	fields = append(fields, "reference_status="+boolLetter(c.ReferenceStatus))
	if c.ReferenceLog != "" {
		fields = append(fields, "reference_log="+quote(c.ReferenceLog))
	}
	for key, val := range c.Info {
		fields = append(fields, key+"="+quote(val))
	}
	fmt.Fprintln(w, strings.Join(fields, " "))

	for i, z := range c.Numbers {
		symbol, err := Symbol(z)
		if err != nil {
			return err
		}
		p := c.Positions[i]
		if c.Forces != nil {
			f := c.Forces[i]
			fmt.Fprintf(w, "%-3s %s %s %s %s %s %s\n", symbol,
				ftoa(p[0]), ftoa(p[1]), ftoa(p[2]),
				ftoa(f[0]), ftoa(f[1]), ftoa(f[2]))
		} else {
			fmt.Fprintf(w, "%-3s %s %s %s\n", symbol, ftoa(p[0]), ftoa(p[1]), ftoa(p[2]))
		}
	}
	return nil
}

func readFrame(scanner *bufio.Scanner) (*Configuration, bool, error) {
	line, ok := nextLine(scanner)
	if !ok {
		return nil, false, scanner.Err()
	}
	count, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, false, fmt.Errorf("malformed atom count %q: %w", line, err)
	}
	comment, ok := nextLine(scanner)
	if !ok {
		return nil, false, fmt.Errorf("unexpected end of file after atom count")
	}
	entries, err := parseComment(comment)
	if err != nil {
		return nil, false, err
	}

	c := &Configuration{
		Numbers:   make([]int, 0, count),
		Positions: make([][3]float64, 0, count),
	}
	hasForces := strings.Contains(entries["Properties"], ":forces:R:3")
	if hasForces {
		c.Forces = make([][3]float64, 0, count)
	}
	for key, val := range entries {
		switch key {
		case "Properties":
		case "Lattice":
			cell, err := parseMatrix(val)
			if err != nil {
				return nil, false, fmt.Errorf("malformed Lattice %q: %w", val, err)
			}
			c.Cell = cell
		case "energy":
			energy, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, false, fmt.Errorf("malformed energy %q: %w", val, err)
			}
			c.Energy = &energy
		case "stress":
			stress, err := parseMatrix(val)
			if err != nil {
				return nil, false, fmt.Errorf("malformed stress %q: %w", val, err)
			}
			c.Stress = stress
		case "reference_status":
			c.ReferenceStatus = val == "T" || val == "True" || val == "true"
		case "reference_log":
			c.ReferenceLog = val
		default:
			if c.Info == nil {
				c.Info = make(map[string]string)
			}
			c.Info[key] = val
		}
	}

	for i := 0; i < count; i++ {
		line, ok := nextLine(scanner)
		if !ok {
			return nil, false, fmt.Errorf("unexpected end of file: %d of %d atoms read", i, count)
		}
		parts := strings.Fields(line)
		want := 4
		if hasForces {
			want = 7
		}
		if len(parts) < want {
			return nil, false, fmt.Errorf("malformed atom line %q", line)
		}
		z, err := AtomicNumber(parts[0])
		if err != nil {
			return nil, false, err
		}
		c.Numbers = append(c.Numbers, z)
		var pos [3]float64
		for j := 0; j < 3; j++ {
			if pos[j], err = strconv.ParseFloat(parts[1+j], 64); err != nil {
				return nil, false, fmt.Errorf("malformed position in %q: %w", line, err)
			}
		}
		c.Positions = append(c.Positions, pos)
		if hasForces {
			var force [3]float64
			for j := 0; j < 3; j++ {
				if force[j], err = strconv.ParseFloat(parts[4+j], 64); err != nil {
					return nil, false, fmt.Errorf("malformed force in %q: %w", line, err)
				}
			}
			c.Forces = append(c.Forces, force)
		}
	}
	return c, true, nil
}

// nextLine skips blank lines between frames.
func nextLine(scanner *bufio.Scanner) (string, bool) {
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			return line, true
		}
	}
	return "", false
}

// parseComment splits the frame comment line into key=value entries,
// honoring double-quoted values with backslash escapes.
func parseComment(line string) (map[string]string, error) {
	entries := make(map[string]string)
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		if i >= len(line) {
			break
		}
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed comment entry %q", line[i:])
		}
		key := line[i : i+eq]
		i += eq + 1
		var val string
		if i < len(line) && line[i] == '"' {
			i++
			var sb strings.Builder
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' && i+1 < len(line) {
					i++
					switch line[i] {
					case 'n':
						sb.WriteByte('\n')
					default:
						sb.WriteByte(line[i])
					}
				} else {
					sb.WriteByte(line[i])
				}
				i++
			}
			if i >= len(line) {
				return nil, fmt.Errorf("unterminated quote in comment for key %q", key)
			}
			i++ // closing quote
			val = sb.String()
		} else {
			end := strings.IndexByte(line[i:], ' ')
			if end < 0 {
				end = len(line) - i
			}
			val = line[i : i+end]
			i += end
		}
		entries[key] = val
	}
	return entries, nil
}

func parseMatrix(val string) (*[3][3]float64, error) {
	parts := strings.Fields(val)
	if len(parts) != 9 {
		return nil, fmt.Errorf("expected 9 components, got %d", len(parts))
	}
	var m [3][3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		m[i/3][i%3] = v
	}
	return &m, nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

func boolLetter(b bool) string {
	if b {
		return "T"
	}
	return "F"
}

func quote(val string) string {
	val = strings.ReplaceAll(val, `\`, `\\`)
	val = strings.ReplaceAll(val, `"`, `\"`)
	val = strings.ReplaceAll(val, "\n", `\n`)
	return `"` + val + `"`
}
