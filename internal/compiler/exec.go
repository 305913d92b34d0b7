// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// diagnosticLine matches the conventional compiler output form
// `path(line,col): error CODE: message`, with an optional position.
var diagnosticLine = regexp.MustCompile(`^(?:(.+)\((\d+),(\d+)\): )?(error|warning) ([A-Za-z0-9]+): (.+)$`)

// ExecService runs an external compiler command for each emission pass.
//
// The shim contract is honored by materializing: every include file is read
// through io.ReadFile into a mirror directory, the command compiles the
// mirror into a scratch output directory, and every produced artifact is fed
// back through io.WriteFile at its original location. The command template
// may contain a "{config}" placeholder for the generated configuration file;
// without one, "-p {config}" is appended.
type ExecService struct {
	argv []string
}

// NewExecService validates that the command's binary is on PATH and returns
// the service.
func NewExecService(argv []string) (*ExecService, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("compiler: empty compiler command")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("compiler: command %q not found: %w", argv[0], err)
	}
	return &ExecService{argv: argv}, nil
}

// Emit implements Service.
func (s *ExecService) Emit(ctx context.Context, req Request, io FileIO) ([]Diagnostic, error) {
	mirror, err := os.MkdirTemp("", "packsmith-src-")
	if err != nil {
		return nil, fmt.Errorf("compiler: create mirror dir: %w", err)
	}
	defer os.RemoveAll(mirror)

	outDir, err := os.MkdirTemp("", "packsmith-out-")
	if err != nil {
		return nil, fmt.Errorf("compiler: create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	files, err := s.mirrorSources(req, io, mirror)
	if err != nil {
		return nil, err
	}

	configPath, err := s.writeConfig(req, mirror, outDir, files)
	if err != nil {
		return nil, err
	}

	argv := expandArgv(s.argv, configPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = mirror
	output, runErr := cmd.CombinedOutput()

	diags := parseDiagnostics(string(output), mirror, req.RootDir)
	if runErr != nil && !HasBlocking(diags) {
		// The command failed for a reason other than reported compile errors.
		return diags, fmt.Errorf("compiler: %s: %w\n%s", argv[0], runErr, strings.TrimSpace(string(output)))
	}

	if err := s.collectOutputs(req, io, outDir); err != nil {
		return diags, err
	}
	return diags, nil
}

// mirrorSources copies every include file through the shim into the mirror
// directory, preserving layout relative to req.RootDir.
func (s *ExecService) mirrorSources(req Request, io FileIO, mirror string) ([]string, error) {
	files := make([]string, 0, len(req.Include))
	for _, path := range req.Include {
		rel, err := filepath.Rel(req.RootDir, path)
		if err != nil {
			return nil, fmt.Errorf("compiler: include %q outside root %q: %w", path, req.RootDir, err)
		}
		content, ok := io.ReadFile(path)
		if !ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("compiler: read include %q: %w", path, err)
			}
			content = string(data)
		}
		dst := filepath.Join(mirror, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return nil, fmt.Errorf("compiler: mirror %q: %w", rel, err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("compiler: mirror %q: %w", rel, err)
		}
		files = append(files, dst)
	}
	return files, nil
}

// writeConfig renders the derived configuration into the mirror.
func (s *ExecService) writeConfig(req Request, mirror, outDir string, files []string) (string, error) {
	options := make(map[string]any, len(req.Options)+2)
	for k, v := range req.Options {
		options[k] = v
	}
	options["outDir"] = outDir
	options["rootDir"] = mirror
	if len(req.PathAliases) > 0 {
		paths := make(map[string][]string, len(req.PathAliases))
		for name, entry := range req.PathAliases {
			if rel, err := filepath.Rel(req.RootDir, entry); err == nil {
				paths[name] = []string{filepath.Join(mirror, rel)}
			}
		}
		options["baseUrl"] = mirror
		options["paths"] = paths
	}

	config := map[string]any{
		"compilerOptions": options,
		"files":           files,
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("compiler: encode config: %w", err)
	}
	path := filepath.Join(mirror, "tsconfig.packsmith.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("compiler: write config: %w", err)
	}
	return path, nil
}

// collectOutputs feeds every produced artifact back through the shim at its
// original location under req.RootDir.
func (s *ExecService) collectOutputs(req Request, io FileIO, outDir string) error {
	return filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("compiler: read output %q: %w", rel, err)
		}
		io.WriteFile(filepath.Join(req.RootDir, rel), string(data))
		return nil
	})
}

// expandArgv substitutes the {config} placeholder, appending "-p" when the
// template has none.
func expandArgv(argv []string, configPath string) []string {
	expanded := make([]string, 0, len(argv)+2)
	replaced := false
	for _, a := range argv {
		if strings.Contains(a, "{config}") {
			a = strings.ReplaceAll(a, "{config}", configPath)
			replaced = true
		}
		expanded = append(expanded, a)
	}
	if !replaced {
		expanded = append(expanded, "-p", configPath)
	}
	return expanded
}

// parseDiagnostics extracts structured diagnostics from compiler output,
// rebasing mirror paths back onto the real root.
func parseDiagnostics(output, mirror, rootDir string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		m := diagnosticLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		d := Diagnostic{Code: m[5], Message: m[6], Severity: SeverityWarning}
		if m[4] == "error" {
			d.Severity = SeverityError
		}
		if m[1] != "" {
			path := m[1]
			if rel, err := filepath.Rel(mirror, path); err == nil && !strings.HasPrefix(rel, "..") {
				path = filepath.Join(rootDir, rel)
			}
			d.Path = path
			d.Line, _ = strconv.Atoi(m[2])
			d.Col, _ = strconv.Atoi(m[3])
		}
		diags = append(diags, d)
	}
	return diags
}
