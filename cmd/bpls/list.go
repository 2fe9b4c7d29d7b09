package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"

	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/engine"
	"github.com/arloliu/bpio/format"
)

type listOptions struct {
	Long       bool
	Attributes bool
	Dump       bool
	Blocks     bool
	JSON       bool
	NoColor    bool
	// Only restricts the listing to the named variables.
	Only []string
}

type fileListing struct {
	File       string             `json:"file"`
	Size       uint64             `json:"size"`
	Steps      int                `json:"steps"`
	Variables  []variableListing  `json:"variables"`
	Attributes []attributeListing `json:"attributes,omitempty"`
}

type variableListing struct {
	Name   string                `json:"name"`
	Type   string                `json:"type"`
	Kind   string                `json:"kind"`
	Steps  int                   `json:"steps"`
	Shape  []uint64              `json:"shape,omitempty"`
	Min    any                   `json:"min,omitempty"`
	Max    any                   `json:"max,omitempty"`
	Blocks []engine.BlockSummary `json:"blocks,omitempty"`
	Values map[int]any           `json:"values,omitempty"`
}

type attributeListing struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// list opens the BP output at path and writes its listing to w.
func list(ctx context.Context, w io.Writer, path string, opts listOptions) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	bpIO := core.NewIO("bpls")
	bpIO.SetParameters(map[string]string{
		"Transport":      "File",
		"transport.root": filepath.Dir(path),
		"Profile":        "Off",
	})
	r, err := engine.NewReader(ctx, bpIO, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close(ctx) //nolint:errcheck

	listing := fileListing{
		File:  path,
		Size:  uint64(stat.Size()), //nolint:gosec
		Steps: r.Steps(),
	}
	for _, v := range r.Variables() {
		if len(opts.Only) > 0 && !slices.Contains(opts.Only, v.Name()) {
			continue
		}
		entry, err := describe(ctx, r, v, opts)
		if err != nil {
			return err
		}
		listing.Variables = append(listing.Variables, entry)
	}
	slices.SortFunc(listing.Variables, func(a, b variableListing) int { return strings.Compare(a.Name, b.Name) })

	if opts.Attributes {
		for _, a := range bpIO.Attributes() {
			listing.Attributes = append(listing.Attributes, attributeListing{
				Name:  a.Name(),
				Type:  a.Type().String(),
				Value: a.Value(),
			})
		}
		slices.SortFunc(listing.Attributes, func(a, b attributeListing) int { return strings.Compare(a.Name, b.Name) })
	}

	if opts.JSON {
		out, err := json.MarshalIndent(listing, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode listing: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))

		return err
	}

	printListing(w, listing, opts)

	return nil
}

func describe(ctx context.Context, r *engine.Reader, v *core.Variable, opts listOptions) (variableListing, error) {
	steps := v.AvailableSteps()
	entry := variableListing{
		Name:  v.Name(),
		Type:  v.Type().String(),
		Kind:  v.ShapeID().String(),
		Steps: len(steps),
		Shape: v.Shape(),
	}
	if opts.Long && len(steps) > 0 {
		first, last := steps[0], steps[len(steps)-1]
		if err := v.SetStepSelection(first, last-first+1); err != nil {
			return entry, err
		}
		if lo, hi, ok := v.MinMax(); ok {
			entry.Min, entry.Max = lo, hi
		}
	}
	if opts.Blocks {
		for _, step := range steps {
			entry.Blocks = append(entry.Blocks, r.BlocksInfo(v, step)...)
		}
	}
	if opts.Dump {
		entry.Values = make(map[int]any, len(steps))
		for _, step := range steps {
			values, err := dump(ctx, r, v, step)
			if err != nil {
				return entry, fmt.Errorf("failed to read %s at step %d: %w", v.Name(), step, err)
			}
			entry.Values[step] = values
		}
	}

	return entry, nil
}

// dump reads every value of v at step: the whole array for a global array,
// each block in turn for a local array.
func dump(ctx context.Context, r *engine.Reader, v *core.Variable, step int) (any, error) {
	if err := v.SetStepSelection(step, 1); err != nil {
		return nil, err
	}

	switch v.ShapeID() {
	case format.ShapeGlobalValue:
		return get(ctx, r, v, 1)
	case format.ShapeGlobalArray:
		shape := v.Shape()
		if err := v.SetSelection(make(core.Dims, len(shape)), shape); err != nil {
			return nil, err
		}

		return get(ctx, r, v, shape.Product())
	default:
		blocks := v.Blocks(step)
		out := make([]any, 0, len(blocks))
		for id, b := range blocks {
			if err := v.SetBlockSelection(id); err != nil {
				return nil, err
			}
			if err := v.SetSelection(make(core.Dims, len(b.Count)), b.Count); err != nil {
				return nil, err
			}
			values, err := get(ctx, r, v, b.Count.Product())
			if err != nil {
				return nil, err
			}
			out = append(out, values)
		}

		return out, nil
	}
}

func get(ctx context.Context, r *engine.Reader, v *core.Variable, n uint64) (any, error) {
	dst, err := encoding.MakeSlice(v.Type(), int(n)) //nolint:gosec
	if err != nil {
		return nil, err
	}
	if err := r.Get(ctx, v, dst, format.ModeSync); err != nil {
		return nil, err
	}

	return dst, nil
}

func printListing(w io.Writer, listing fileListing, opts listOptions) {
	typeColor := color.New(color.FgCyan)
	nameColor := color.New(color.FgGreen, color.Bold)
	dimColor := color.New(color.FgYellow)
	if opts.NoColor {
		for _, c := range []*color.Color{typeColor, nameColor, dimColor} {
			c.DisableColor()
		}
	}

	fmt.Fprintf(w, "File %s (%s), %d steps\n", listing.File, humanize.Bytes(listing.Size), listing.Steps)

	typeWidth, nameWidth := 0, 0
	for _, v := range listing.Variables {
		typeWidth = max(typeWidth, len(v.Type))
		nameWidth = max(nameWidth, len(v.Name))
	}
	for _, a := range listing.Attributes {
		typeWidth = max(typeWidth, len(a.Type))
		nameWidth = max(nameWidth, len(a.Name))
	}

	for _, v := range listing.Variables {
		dims := "scalar"
		if v.Kind != format.ShapeGlobalValue.String() {
			dims = core.Dims(v.Shape).String()
		}
		fmt.Fprintf(w, "  %s  %s  %s",
			typeColor.Sprintf("%-*s", typeWidth, v.Type),
			nameColor.Sprintf("%-*s", nameWidth, v.Name),
			dimColor.Sprintf("%d*%s", v.Steps, dims))
		if opts.Long && v.Min != nil {
			fmt.Fprintf(w, " = %v / %v", v.Min, v.Max)
		}
		fmt.Fprintln(w)

		for _, b := range v.Blocks {
			fmt.Fprintf(w, "        step %d block %d: [%s : %s] writer %d subfile %d\n",
				b.Step, b.ID, b.Start, b.Count, b.WriterID, b.FileIndex)
		}
		for _, step := range sortedSteps(v.Values) {
			fmt.Fprintf(w, "        step %d: %v\n", step, v.Values[step])
		}
	}

	for _, a := range listing.Attributes {
		fmt.Fprintf(w, "  %s  %s  attr   = %s\n",
			typeColor.Sprintf("%-*s", typeWidth, a.Type),
			nameColor.Sprintf("%-*s", nameWidth, a.Name),
			formatAttribute(a.Value))
	}
}

func formatAttribute(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case []string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprint(val)
	}
}

func sortedSteps(values map[int]any) []int {
	steps := make([]int, 0, len(values))
	for step := range values {
		steps = append(steps, step)
	}
	slices.Sort(steps)

	return steps
}
