// Package scanner statically vets extension source before anything runs.
// It parses the Starlark syntax tree and reports dangerous constructs as
// findings; any block finding rejects the source.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.starlark.net/syntax"

	"github.com/hyprrice/hyprsandbox/internal/metrics"
	"github.com/hyprrice/hyprsandbox/internal/policy"
)

// DefaultMaxSourceBytes is the source size ceiling
const DefaultMaxSourceBytes = 1 << 20

// FileOptions returns the dialect accepted by both the scanner and the
// interpreter. Recursion stays disabled.
func FileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
}

var (
	dynamicEvalNames = map[string]bool{"eval": true, "exec": true, "compile": true, "execfile": true}

	dynamicImportNames = map[string]bool{
		"__import__":    true,
		"import_module": true,
		"load_module":   true,
		"exec_module":   true,
		"reload":        true,
	}

	reflectionNames = map[string]bool{
		"getattr": true,
		"setattr": true,
		"delattr": true,
		"hasattr": true,
		"dir":     true,
		"vars":    true,
		"globals": true,
		"locals":  true,
	}

	dangerousCallNames = map[string]bool{
		"open":       true,
		"input":      true,
		"exit":       true,
		"quit":       true,
		"breakpoint": true,
	}
)

// Options configures a Scanner
type Options struct {
	MaxSourceBytes int
	DeniedModules  []string
	AllowedModules []string
	CacheSize      int
}

// Scanner runs the static rules. It is safe for concurrent use.
type Scanner struct {
	maxSource int
	denied    map[string]bool
	allowed   map[string]bool
	cache     *lru.Cache[string, Outcome]
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a scanner. A CacheSize of zero disables outcome caching.
func New(opts Options) (*Scanner, error) {
	s := &Scanner{
		maxSource: opts.MaxSourceBytes,
		denied:    toSet(opts.DeniedModules),
		allowed:   toSet(opts.AllowedModules),
		logger:    slog.Default(),
	}
	if s.maxSource <= 0 {
		s.maxSource = DefaultMaxSourceBytes
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, Outcome](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create scan cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// SetLogger sets the logger
func (s *Scanner) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetMetrics attaches metrics collectors
func (s *Scanner) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Scan vets src under the capabilities of the extension's security level
func (s *Scanner) Scan(filename string, src []byte, caps policy.Capabilities) Outcome {
	key := cacheKey(src, caps)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.logger.Debug("scan cache hit", slog.String("file", filename))
			s.record(cached)
			return cached.clone()
		}
	}

	out := s.scan(filename, src, caps)
	if s.cache != nil {
		s.cache.Add(key, out.clone())
	}

	s.record(out)
	if !out.Accepted {
		s.logger.Warn("extension source rejected",
			slog.String("file", filename),
			slog.String("reason", out.RejectedReason),
			slog.Int("findings", len(out.Findings)),
		)
	}
	return out
}

func (s *Scanner) record(out Outcome) {
	s.metrics.Scan(out.Accepted)
	for _, f := range out.Findings {
		s.metrics.Finding(f.RuleID, f.Severity.String())
	}
}

func (s *Scanner) scan(filename string, src []byte, caps policy.Capabilities) Outcome {
	if len(src) > s.maxSource {
		return newOutcome([]Finding{{
			RuleID:   RuleSourceTooLarge,
			Severity: SeverityBlock,
			Message:  fmt.Sprintf("source is %d bytes, limit is %d", len(src), s.maxSource),
		}})
	}

	file, err := FileOptions().Parse(filename, src, 0)
	if err != nil {
		f := Finding{RuleID: RuleSyntaxInvalid, Severity: SeverityBlock, Message: err.Error()}
		var se syntax.Error
		if errors.As(err, &se) {
			f.Line, f.Column, f.Message = int(se.Pos.Line), int(se.Pos.Col), se.Msg
		}
		return newOutcome([]Finding{f})
	}

	v := &visitor{scanner: s, caps: caps}
	walk(file, v.visit)
	return newOutcome(v.findings)
}

type visitor struct {
	scanner  *Scanner
	caps     policy.Capabilities
	findings []Finding
}

func (v *visitor) add(node syntax.Node, rule string, sev Severity, format string, args ...any) {
	start, _ := node.Span()
	v.findings = append(v.findings, Finding{
		RuleID:   rule,
		Severity: sev,
		Line:     int(start.Line),
		Column:   int(start.Col),
		Message:  fmt.Sprintf(format, args...),
	})
}

func (v *visitor) visit(n syntax.Node) {
	switch n := n.(type) {
	case *syntax.LoadStmt:
		v.checkLoad(n)
	case *syntax.CallExpr:
		v.checkCall(n)
	case *syntax.Ident:
		// Covers attribute names too: Walk visits DotExpr.Name.
		if isDunder(n.Name) {
			v.add(n, RulePrivateAttribute, SeverityBlock, "access to '%s' is not permitted", n.Name)
		}
	}
}

func (v *visitor) checkLoad(n *syntax.LoadStmt) {
	module := n.ModuleName()
	root := module
	if i := strings.IndexAny(root, "./:"); i > 0 {
		root = root[:i]
	}

	switch {
	case v.scanner.denied[module] || v.scanner.denied[root]:
		v.add(n, RuleDeniedImport, SeverityBlock, "module '%s' is not permitted", module)
	case v.scanner.allowed[module]:
	case v.caps.StrictImports:
		v.add(n, RuleUnknownImport, SeverityBlock, "module '%s' is not in the allow-list", module)
	default:
		v.add(n, RuleUnknownImport, SeverityWarning, "module '%s' is not in the allow-list and will fail to load", module)
	}
}

func (v *visitor) checkCall(n *syntax.CallExpr) {
	name, qualifier := calleeName(n.Fn)
	if name == "" {
		return
	}

	switch {
	case dynamicEvalNames[name]:
		v.add(n, RuleDynamicEval, SeverityBlock, "call to dynamic evaluation primitive '%s'", name)
	case dynamicImportNames[name]:
		v.add(n, RuleDynamicImport, SeverityBlock, "dynamic import via '%s'", name)
	case dangerousCallNames[name] && qualifier == "":
		v.add(n, RuleDangerousCall, SeverityBlock, "call to '%s' is not permitted", name)
	case reflectionNames[name] && qualifier == "":
		if v.caps.AllowReflection {
			v.add(n, RuleReflection, SeverityWarning, "reflection via '%s' can bypass attribute restrictions", name)
		} else {
			v.add(n, RuleReflection, SeverityWarning, "'%s' is unavailable at this security level", name)
		}
	case name == "run" && qualifier == "host" && !v.caps.AllowCommands:
		v.add(n, RuleHostCommand, SeverityWarning, "host.run is unavailable at this security level")
	}
}

// calleeName returns the called name and, for attribute calls on an
// identifier, the identifier it is called on.
func calleeName(fn syntax.Expr) (name, qualifier string) {
	switch fn := fn.(type) {
	case *syntax.Ident:
		return fn.Name, ""
	case *syntax.DotExpr:
		if x, ok := fn.X.(*syntax.Ident); ok {
			return fn.Name.Name, x.Name
		}
		return fn.Name.Name, "?"
	}
	return "", ""
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// walk visits every node under root. syntax.Walk panics on while loops,
// so those are walked here.
func walk(root syntax.Node, visit func(syntax.Node)) {
	var fn func(n syntax.Node) bool
	fn = func(n syntax.Node) bool {
		visit(n)
		if w, ok := n.(*syntax.WhileStmt); ok {
			syntax.Walk(w.Cond, fn)
			for _, stmt := range w.Body {
				syntax.Walk(stmt, fn)
			}
			return false
		}
		return true
	}
	syntax.Walk(root, fn)
}

func cacheKey(src []byte, caps policy.Capabilities) string {
	sum := sha256.Sum256(src)
	return fmt.Sprintf("%s|%t|%t|%t", hex.EncodeToString(sum[:]), caps.StrictImports, caps.AllowReflection, caps.AllowCommands)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
