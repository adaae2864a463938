package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"dynacraft.ai/internal/sim/defs"
)

type FileResult struct {
	File       string   `json:"file"`
	Definition string   `json:"definition,omitempty"`
	Modules    []string `json:"modules,omitempty"`
	Digest     string   `json:"digest,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid bool         `json:"valid"`
	Files []FileResult `json:"files"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <objects-dir>",
		Short: "Validate object definitions against the schema",
		Long: `Parse every *.yaml object definition in a directory, checking the JSON
schema and cross-field rules. Every file is reported, not only the first failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := validateDir(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				for _, f := range res.Files {
					if f.Error != "" {
						fmt.Fprintf(out, "FAIL %s: %s\n", f.File, f.Error)
						continue
					}
					fmt.Fprintf(out, "ok   %s: %s [%s]", f.File, f.Definition, strings.Join(f.Modules, ", "))
					if rootOpts.Verbose {
						fmt.Fprintf(out, " %s", f.Digest[:12])
					}
					fmt.Fprintln(out)
				}
			}
			if !res.Valid {
				return fmt.Errorf("invalid definitions in %s", args[0])
			}
			return nil
		},
	}
}

func validateDir(dir string) (ValidationResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ValidationResult{}, err
	}
	res := ValidationResult{Valid: true}
	owner := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		fr := FileResult{File: name}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			var d *defs.Definition
			d, err = defs.Parse(raw)
			if err == nil {
				if prev, dup := owner[d.Name]; dup {
					err = fmt.Errorf("definition %q already declared in %s", d.Name, prev)
				} else {
					owner[d.Name] = name
					fr.Definition, fr.Modules, fr.Digest = d.Name, d.Modules, d.Digest
				}
			}
		}
		if err != nil {
			fr.Error = err.Error()
			res.Valid = false
		}
		res.Files = append(res.Files, fr)
	}
	if len(res.Files) == 0 {
		return res, fmt.Errorf("no definitions in %s", dir)
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].File < res.Files[j].File })
	return res, nil
}
