// compile.go - Laden und Kompilieren des Evaluierungs-Programms
//
// Enthaelt:
// - LoadSource: Kernel-Quelltext lesen
// - Compile: Build mit Defines, Build-Log, Entry-Point-Aufloesung
// - Program: kompiliertes Programm mit Kernel und Freigabe

package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/ml"
)

// LoadSource reads the kernel source at path.
func LoadSource(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		e := ml.NewError(ml.StageCompile, ml.ErrCompilation, ml.OpSourceNotFound, err)
		e.Diagnostic = err.Error()
		return "", e
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		e := ml.NewError(ml.StageCompile, ml.ErrCompilation, ml.OpSourceNotFound, fmt.Errorf("%s is empty", path))
		e.Diagnostic = fmt.Sprintf("kernel source %s contains no code", path)
		return "", e
	}
	return string(b), nil
}

// Program is source compiled for one device with one Config.
type Program struct {
	Key   string
	Entry string

	config   Config
	buildLog string
	program  ml.Program
	kernel   ml.Kernel

	once       sync.Once
	releaseErr error
}

// Config returns the configuration the program was specialised with.
func (p *Program) Config() Config { return p.config }

// BuildLog returns the compiler output of a successful build, often empty.
func (p *Program) BuildLog() string { return p.buildLog }

// Kernel returns the entry point kernel.
func (p *Program) Kernel() ml.Kernel { return p.kernel }

// Release frees the kernel and the program. Later calls are no-ops.
func (p *Program) Release() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		var errs []error
		if p.kernel != nil {
			if err := p.kernel.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release kernel: %w", err))
			}
		}
		if p.program != nil {
			if err := p.program.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release program: %w", err))
			}
		}
		p.releaseErr = errors.Join(errs...)
	})
	return p.releaseErr
}

// Compile builds source for the located device with the defines of cfg and
// resolves entry. The build log is returned as the error diagnostic when the
// build fails.
func Compile(ctx context.Context, h *discover.Handles, source string, cfg Config, entry string) (*Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, ml.Canceled(ml.StageCompile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	p, err := h.Context.CreateProgram(source)
	if err != nil {
		e := ml.NewError(ml.StageCompile, ml.ErrCompilation, ml.OpBuildFailed, err)
		e.Diagnostic = err.Error()
		return nil, e
	}

	options := cfg.BuildOptions()
	if err := p.Build(h.Device, options); err != nil {
		log := strings.TrimSpace(p.BuildLog(h.Device))
		if log == "" {
			log = err.Error()
		}
		releaseOnError(p)
		e := ml.NewError(ml.StageCompile, ml.ErrCompilation, ml.OpBuildFailed, err)
		e.Diagnostic = log
		return nil, e
	}
	buildLog := strings.TrimSpace(p.BuildLog(h.Device))
	if buildLog != "" {
		slog.Debug("kernel build log", "log", buildLog)
	}

	k, err := p.CreateKernel(entry)
	if err != nil {
		names := p.KernelNames()
		releaseOnError(p)
		e := ml.NewError(ml.StageCompile, ml.ErrCompilation, ml.OpEntryPointNotFound, err)
		e.Diagnostic = entryDiagnostic(entry, names)
		return nil, e
	}

	key := cfg.Key(source)
	slog.Debug("compiled kernel", "entry", entry, "config", cfg, "key", key[:12], "duration", time.Since(start))
	return &Program{
		Key:      key,
		Entry:    entry,
		config:   cfg,
		buildLog: buildLog,
		program:  p,
		kernel:   k,
	}, nil
}

func releaseOnError(p ml.Program) {
	if err := p.Release(); err != nil {
		slog.Warn("failed to release program", "error", err)
	}
}

func entryDiagnostic(entry string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("kernel %q not found in program", entry)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "kernel %q not found in program; declared kernels: %s", entry, strings.Join(names, ", "))
	if s := suggest(entry, names); s != "" {
		fmt.Fprintf(&sb, "\ndid you mean %q?", s)
	}
	return sb.String()
}

// suggest returns the declared name closest to entry, if it is close enough
// to be a plausible typo.
func suggest(entry string, names []string) string {
	best, bestDist := "", -1
	for _, name := range names {
		d := levenshtein.ComputeDistance(entry, name)
		if bestDist < 0 || d < bestDist {
			best, bestDist = name, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(entry)/3) {
		return ""
	}
	return best
}
