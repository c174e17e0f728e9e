// program.go - Host-Programme, Build-Schritt und Kernel-Registrierung
//
// Enthaelt:
// - RegisterKernel: Go-Implementierungen fuer Kernel-Namen hinterlegen
// - program.Build: Optionen parsen, Praeprozessor-Direktiven pruefen,
//   Klammern zaehlen und ein Build-Log im Compiler-Stil erzeugen
// - Kernel-Erzeugung und Argument-Bindung

package host

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"

	"github.com/genevo/fiteval/ml"
)

// Defines are the preprocessor definitions a program was built with.
type Defines map[string]string

// Int returns the integer value of name, or def when it is undefined or not
// an integer.
func (d Defines) Int(name string, def int) int {
	v, ok := d[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// KernelFunc executes a single work item gid with the bound arguments.
type KernelFunc func(defines Defines, args Args, gid int)

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]KernelFunc)
)

// RegisterKernel registers the Go implementation of the kernel name.
func RegisterKernel(name string, fn KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	if _, ok := kernels[name]; ok {
		panic("host: kernel already registered: " + name)
	}
	kernels[name] = fn
}

func lookupKernel(name string) (KernelFunc, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	fn, ok := kernels[name]
	return fn, ok
}

var errBuildFailure = errors.New("build program failure")

// kernelDecl matches OpenCL kernel declarations. Qualifiers and attributes
// between the kernel keyword and the return type are allowed.
var kernelDecl = regexp2.MustCompile(
	`(?:__kernel|\bkernel)\s+(?:__attribute__\s*\(\(.*?\)\)\s*)?void\s+(?<name>[A-Za-z_]\w*)\s*\(`,
	regexp2.Multiline,
)

type program struct {
	source string
	device *device

	mu       sync.Mutex
	built    bool
	defines  Defines
	log      string
	names    []string
	released bool
}

func (p *program) Build(d ml.Device, options string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return fmt.Errorf("program: %w", errReleased)
	}
	if hd, ok := d.(*device); !ok || hd != p.device {
		return errors.New("invalid device: not associated with program")
	}

	defines, diags := parseOptions(options)
	src := stripComments(p.source)
	diags = append(diags, preprocess(src, defines)...)
	diags = append(diags, checkBalance(src)...)

	names, err := declaredKernels(src)
	if err != nil {
		diags = append(diags, fmt.Sprintf("error: %v", err))
	}

	p.log = strings.Join(diags, "\n")
	p.defines = defines
	p.names = names
	p.built = false
	for _, line := range diags {
		if strings.Contains(line, "error: ") {
			return errBuildFailure
		}
	}
	p.built = true
	return nil
}

func (p *program) BuildLog(ml.Device) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log
}

func (p *program) KernelNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.names)
}

func (p *program) CreateKernel(name string) (ml.Kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, fmt.Errorf("program: %w", errReleased)
	}
	if !p.built {
		return nil, errors.New("invalid program executable: program was not built")
	}
	if !slices.Contains(p.names, name) {
		return nil, fmt.Errorf("invalid kernel name %q", name)
	}
	fn, ok := lookupKernel(name)
	if !ok {
		return nil, fmt.Errorf("kernel %q has no host implementation", name)
	}
	return &kernel{name: name, fn: fn, defines: p.defines, args: make(map[int]any)}, nil
}

func (p *program) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return nil
}

// parseOptions reads -D definitions out of compiler options. Options that
// a device compiler would accept but that have no meaning on the host are
// ignored.
func parseOptions(options string) (Defines, []string) {
	defines := make(Defines)
	var diags []string

	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		opt := fields[i]
		switch {
		case opt == "-D" || opt == "-I":
			if i+1 >= len(fields) {
				diags = append(diags, fmt.Sprintf("error: missing argument to '%s'", opt))
				continue
			}
			i++
			if opt == "-D" {
				addDefine(defines, fields[i])
			}
		case strings.HasPrefix(opt, "-D"):
			addDefine(defines, opt[2:])
		case strings.HasPrefix(opt, "-I"), strings.HasPrefix(opt, "-cl-"), opt == "-w", opt == "-Werror":
		default:
			diags = append(diags, fmt.Sprintf("error: invalid build option '%s'", opt))
		}
	}
	return defines, diags
}

func addDefine(defines Defines, def string) {
	name, value, ok := strings.Cut(def, "=")
	if !ok {
		value = "1"
	}
	defines[name] = value
}

// stripComments replaces comments with spaces so line numbers are preserved.
func stripComments(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))

	const (
		code = iota
		line
		block
		str
	)
	state := code
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch state {
		case code:
			switch {
			case c == '/' && i+1 < len(src) && src[i+1] == '/':
				state = line
				sb.WriteString("  ")
				i++
			case c == '/' && i+1 < len(src) && src[i+1] == '*':
				state = block
				sb.WriteString("  ")
				i++
			case c == '"':
				state = str
				sb.WriteByte(c)
			default:
				sb.WriteByte(c)
			}
		case line:
			if c == '\n' {
				state = code
				sb.WriteByte(c)
			} else {
				sb.WriteByte(' ')
			}
		case block:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				state = code
				sb.WriteString("  ")
				i++
			} else if c == '\n' {
				sb.WriteByte(c)
			} else {
				sb.WriteByte(' ')
			}
		case str:
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				sb.WriteByte(src[i+1])
				i++
			} else if c == '"' || c == '\n' {
				state = code
			}
		}
	}
	return sb.String()
}

// preprocess evaluates the conditional directives that matter for
// diagnostics (#if, #ifdef, #ifndef, #else, #endif) and reports #error lines
// in active regions. #define inside the source extends the definition set.
func preprocess(src string, defines Defines) []string {
	var diags []string
	known := make(map[string]bool, len(defines))
	for name := range defines {
		known[name] = true
	}

	type frame struct {
		active, taken bool
		line          int
	}
	var stack []frame
	active := func() bool {
		for _, f := range stack {
			if !f.active {
				return false
			}
		}
		return true
	}

	for n, raw := range strings.Split(src, "\n") {
		lineNo := n + 1
		text := strings.TrimSpace(raw)
		if !strings.HasPrefix(text, "#") {
			continue
		}
		body := strings.TrimSpace(text[1:])
		fields := strings.Fields(body)
		if len(fields) == 0 {
			continue
		}
		directive := fields[0]
		rest := strings.TrimSpace(strings.TrimPrefix(body, directive))

		switch directive {
		case "ifdef":
			stack = append(stack, frame{active: known[rest], taken: known[rest], line: lineNo})
		case "ifndef":
			stack = append(stack, frame{active: !known[rest], taken: !known[rest], line: lineNo})
		case "if":
			v := evalCondition(rest, known)
			stack = append(stack, frame{active: v, taken: v, line: lineNo})
		case "elif":
			if len(stack) == 0 {
				diags = append(diags, fmt.Sprintf("<kernel>:%d:2: error: #elif without #if", lineNo))
				continue
			}
			top := &stack[len(stack)-1]
			v := !top.taken && evalCondition(rest, known)
			top.active = v
			top.taken = top.taken || v
		case "else":
			if len(stack) == 0 {
				diags = append(diags, fmt.Sprintf("<kernel>:%d:2: error: #else without #if", lineNo))
				continue
			}
			top := &stack[len(stack)-1]
			top.active = !top.taken
			top.taken = true
		case "endif":
			if len(stack) == 0 {
				diags = append(diags, fmt.Sprintf("<kernel>:%d:2: error: #endif without #if", lineNo))
				continue
			}
			stack = stack[:len(stack)-1]
		case "define":
			if active() {
				if f := strings.Fields(rest); len(f) > 0 {
					name, _, _ := strings.Cut(f[0], "(")
					known[name] = true
				}
			}
		case "undef":
			if active() {
				delete(known, rest)
			}
		case "error":
			if active() {
				diags = append(diags, fmt.Sprintf("<kernel>:%d:2: error: %s", lineNo, rest))
			}
		case "warning":
			if active() {
				diags = append(diags, fmt.Sprintf("<kernel>:%d:2: warning: %s", lineNo, rest))
			}
		}
	}

	for _, f := range stack {
		diags = append(diags, fmt.Sprintf("<kernel>:%d:2: error: unterminated conditional directive", f.line))
	}
	return diags
}

// evalCondition handles the #if forms used for feature guards: integer
// literals, defined(NAME) and !defined(NAME). Anything else is treated as true.
func evalCondition(expr string, known map[string]bool) bool {
	expr = strings.TrimSpace(expr)
	negate := false
	if strings.HasPrefix(expr, "!") {
		negate = true
		expr = strings.TrimSpace(expr[1:])
	}

	var v bool
	switch {
	case strings.HasPrefix(expr, "defined"):
		name := strings.Trim(strings.TrimSpace(expr[len("defined"):]), "() ")
		v = known[name]
	default:
		n, err := strconv.Atoi(expr)
		v = err != nil || n != 0
	}
	return v != negate
}

// checkBalance reports unbalanced braces and parentheses outside of
// preprocessor lines and string literals.
func checkBalance(src string) []string {
	var diags []string
	type open struct {
		ch        byte
		line, col int
	}
	var stack []open
	pairs := map[byte]byte{')': '(', '}': '{', ']': '['}

	for n, raw := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(raw), "#") {
			continue
		}
		inStr := false
		for col := 0; col < len(raw); col++ {
			c := raw[col]
			if inStr {
				if c == '\\' {
					col++
				} else if c == '"' {
					inStr = false
				}
				continue
			}
			switch c {
			case '"':
				inStr = true
			case '\'':
				if end := strings.IndexByte(raw[col+1:], '\''); end >= 0 {
					col += end + 1
				}
			case '(', '{', '[':
				stack = append(stack, open{ch: c, line: n + 1, col: col + 1})
			case ')', '}', ']':
				if len(stack) == 0 || stack[len(stack)-1].ch != pairs[c] {
					diags = append(diags, fmt.Sprintf("<kernel>:%d:%d: error: extraneous closing '%c'", n+1, col+1, c))
					continue
				}
				stack = stack[:len(stack)-1]
			}
		}
	}
	for _, o := range stack {
		diags = append(diags, fmt.Sprintf("<kernel>:%d:%d: error: unmatched '%c'", o.line, o.col, o.ch))
	}
	return diags
}

func declaredKernels(src string) ([]string, error) {
	var names []string
	m, err := kernelDecl.FindStringMatch(src)
	for m != nil && err == nil {
		name := m.GroupByName("name").String()
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
		m, err = kernelDecl.FindNextMatch(m)
	}
	return names, err
}

// Args are the arguments bound to a kernel at launch, in index order.
type Args struct {
	values []any
}

// NewArgs binds values directly, for calling a KernelFunc outside a queue.
// Buffers are passed as []float32 and scalars as int32.
func NewArgs(values ...any) Args {
	return Args{values: values}
}

// Len returns the number of bound arguments.
func (a Args) Len() int { return len(a.values) }

// Float32s returns the device memory bound at index i.
func (a Args) Float32s(i int) []float32 {
	return a.values[i].([]float32)
}

// Int32 returns the scalar bound at index i.
func (a Args) Int32(i int) int32 {
	return a.values[i].(int32)
}

type kernel struct {
	name    string
	fn      KernelFunc
	defines Defines

	mu       sync.Mutex
	args     map[int]any
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArgBuffer(index int, b ml.Buffer) error {
	hb, ok := b.(*buffer)
	if !ok || hb == nil {
		return fmt.Errorf("invalid mem object for argument %d", index)
	}
	return k.setArg(index, hb)
}

func (k *kernel) SetArgInt32(index int, v int32) error {
	return k.setArg(index, v)
}

func (k *kernel) setArg(index int, v any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return fmt.Errorf("kernel: %w", errReleased)
	}
	if index < 0 {
		return fmt.Errorf("invalid arg index %d", index)
	}
	k.args[index] = v
	return nil
}

// bind resolves the bound arguments into Args. Every index from zero to the
// highest bound index must be set.
func (k *kernel) bind() (Args, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return Args{}, fmt.Errorf("kernel: %w", errReleased)
	}

	values := make([]any, len(k.args))
	for i := range values {
		v, ok := k.args[i]
		if !ok {
			return Args{}, fmt.Errorf("invalid kernel args: argument %d is not set", i)
		}
		if b, ok := v.(*buffer); ok {
			data, err := b.view()
			if err != nil {
				return Args{}, fmt.Errorf("argument %d: %w", i, err)
			}
			v = data
		}
		values[i] = v
	}
	return Args{values: values}, nil
}

func (k *kernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.released = true
	return nil
}
