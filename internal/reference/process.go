package reference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
)

// singlepoint runs one external evaluation. It never returns an error:
// every failure mode (setup, walltime, nonzero exit, unparsable output)
// is encoded on the returned configuration as a cleared reference status
// plus a diagnostic log, so downstream filtering stays uniform.
func singlepoint(ctx context.Context, c *dataset.Configuration, pars Parameters, command string, walltime time.Duration, templater InputTemplater, parser OutputParser) *dataset.Configuration {
	log := ctxlog.FromContext(ctx)
	out := c.Copy()
	out.ClearProperties()
	out.ReferenceStatus = false
	out.ReferenceLog = ""

	workdir, err := os.MkdirTemp("", "singlepoint_")
	if err != nil {
		return failed(out, fmt.Sprintf("could not create working directory: %v", err))
	}
	defer os.RemoveAll(workdir)

	dataPaths := make(map[string]string, len(pars.Data))
	for _, key := range sortedKeys(pars.Data) {
		path := filepath.Join(workdir, key)
		if err := os.WriteFile(path, []byte(pars.Data[key]), 0o644); err != nil {
			return failed(out, fmt.Sprintf("could not write data file %s: %v", key, err))
		}
		dataPaths[key] = path
	}

	input, err := templater.Render(pars.Input, c, dataPaths)
	if err != nil {
		return failed(out, fmt.Sprintf("could not render input: %v", err))
	}
	inputPath := filepath.Join(workdir, "input")
	if err := os.WriteFile(inputPath, []byte(input), 0o644); err != nil {
		return failed(out, fmt.Sprintf("could not write input file: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, walltime)
	defer cancel()

	args := append(strings.Fields(command), "-i", inputPath)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("launching reference evaluation",
		slog.String("command", command),
		slog.Duration("walltime", walltime),
		slog.Int("natoms", c.Len()))
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.ReferenceLog = fmt.Sprintf("subprocess walltime (%s) reached\n\n%s", walltime, stdout.String())
		return out
	}
	if runErr != nil {
		log.Debug("reference evaluation failed", slog.Any("error", runErr))
		return failed(out, stdout.String()+"\n\nSTDERR\n"+stderr.String())
	}

	props, err := parser.Parse(stdout.String(), c)
	if err != nil {
		log.Debug("reference output not parsable", slog.Any("error", err))
		return failed(out, stdout.String()+"\n\nPARSE ERROR\n"+err.Error())
	}
	if len(props.Forces) != c.Len() {
		return failed(out, fmt.Sprintf("%s\n\nPARSE ERROR\nparsed %d force rows for %d atoms", stdout.String(), len(props.Forces), c.Len()))
	}

	out.Energy = &props.Energy
	out.Forces = props.Forces
	if props.Stress != nil {
		stress := *props.Stress
		out.Stress = &stress
	}
	out.ReferenceStatus = true
	out.ReferenceLog = stdout.String()
	return out
}

func failed(c *dataset.Configuration, log string) *dataset.Configuration {
	c.ReferenceStatus = false
	c.ReferenceLog = log
	return c
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
