package eval

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/extension"
	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// phase tracks where a Process call is in its lifecycle, for logging.
type phase string

const (
	phaseImplicitIncludes phase = "applying-implicit-includes"
	phasePackageImplicit  phase = "resolving-package-implicit"
	phaseBody             phase = "executing-body"
	phaseCollect          phase = "collecting"
)

// Evaluator processes build files against one cell layout. It owns the
// module cache, so extension files are evaluated once and shared across
// all files the instance processes. Not safe for concurrent use.
type Evaluator struct {
	opts     Options
	log      *telemetry.Logger
	resolver *extension.Resolver
	sandbox  *sandbox.Sandbox
	cache    *extension.Cache
	env      *buildEnv
	builtins starlark.StringDict

	// implicitExports is the merged exported set of the implicit
	// includes, nil until they are first loaded. Implicit includes
	// themselves execute against builtins only.
	implicitExports starlark.StringDict
	implicitRecords []*extension.ModuleRecord
}

// New creates an evaluator.
func New(opts Options) (*Evaluator, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("eval: Root is required")
	}
	opts = opts.withDefaults()

	e := &Evaluator{
		opts:     opts,
		log:      opts.Logger.NewComponentLogger("eval"),
		resolver: extension.NewResolver(opts.Root, opts.CellRoots),
		sandbox: sandbox.New(sandbox.Options{
			ImportAllowlist: opts.ImportAllowlist,
			SafeModules:     opts.SafeModules,
		}),
	}
	e.cache = extension.NewCache(e.execModule)
	e.env = &buildEnv{ev: e}
	e.builtins = e.sandbox.Builtins(e.env, opts.RuleKinds)
	return e, nil
}

// Process evaluates one build file. Evaluation failures are reported as
// a trailing fatal diagnostic on the result, not as an error; the error
// return is reserved for unusable requests.
func (e *Evaluator) Process(req Request) (*Result, error) {
	if req.BuildFile == "" {
		return nil, fmt.Errorf("eval: request names no build file")
	}
	path := req.BuildFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.opts.Root, path)
	}
	pkg, err := packagePath(e.opts.Root, filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	log := e.log.WithBuildFile(path).WithCell(e.opts.CellName)
	start := time.Now()

	file := &fileState{
		path:    path,
		dir:     filepath.Dir(path),
		pkg:     pkg,
		names:   map[string]bool{},
		prov:    extension.NewProvenance(),
		tracked: map[string]bool{},
		diags:   diag.NewCollector(req.Diagnostics),
	}
	file.prov.AddFile(path)

	e.env.begin(file)
	defer e.env.end()

	res := e.process(log, file, req)

	status := "ok"
	if res.Failed() {
		status = "failed"
	}
	e.opts.Metrics.FileEvaluated(status, time.Since(start))
	e.opts.Metrics.RulesCollected(len(res.Rules))
	log.Infof("evaluated %s: %d rules, %d diagnostics", path, len(res.Rules), len(res.Diagnostics))
	return res, nil
}

func (e *Evaluator) process(log *telemetry.Logger, file *fileState, req Request) *Result {
	fail := func(err error) *Result {
		classified := e.classify(err)
		source := diag.SourceParse
		var ee *diag.EvalError
		if errors.As(classified, &ee) {
			source = ee.Source()
		}
		file.diags.Fatal(source, classified, traceback(err))
		e.opts.Metrics.DiagnosticRaised(string(diag.LevelFatal), source)
		log.WithError(classified).Error("evaluation failed")
		return &Result{
			Provenance:  file.prov,
			Diagnostics: file.diags.List(),
		}
	}

	log.Debugf("phase: %s", phaseImplicitIncludes)
	exports, err := e.applyImplicitIncludes(file)
	if err != nil {
		return fail(err)
	}

	if req.Implicit != nil && req.Implicit.Load != "" {
		log.Debugf("phase: %s", phasePackageImplicit)
		symbols, err := e.resolvePackageImplicit(req.Implicit)
		if err != nil {
			return fail(err)
		}
		file.implicitSymbols = symbols
	}

	log.Debugf("phase: %s", phaseBody)
	predeclared := make(starlark.StringDict, len(e.builtins)+len(exports))
	for name, v := range e.builtins {
		predeclared[name] = v
	}
	for name, v := range exports {
		predeclared[name] = v
	}

	thread := e.newThread("build:" + file.path)
	if _, err := execProgram(thread, file.path, predeclared); err != nil {
		return fail(err)
	}

	log.Debugf("phase: %s", phaseCollect)
	return &Result{
		Rules:       file.rules,
		Provenance:  file.prov,
		Diagnostics: file.diags.List(),
	}
}

// applyImplicitIncludes loads the configured implicit includes (once per
// evaluator) and merges their provenance into the current file's.
func (e *Evaluator) applyImplicitIncludes(file *fileState) (starlark.StringDict, error) {
	if e.implicitExports == nil {
		exports := starlark.StringDict{}
		for _, ref := range e.opts.ImplicitIncludes {
			rec, err := e.loadModuleFrom(ref, e.opts.CellName, e.opts.Root)
			if err != nil {
				return nil, err
			}
			for name, v := range rec.Exported() {
				exports[name] = v
			}
			e.implicitRecords = append(e.implicitRecords, rec)
		}
		e.implicitExports = exports
	} else {
		for _, rec := range e.implicitRecords {
			file.prov.Merge(rec.Provenance)
		}
	}
	return e.implicitExports, nil
}

func (e *Evaluator) resolvePackageImplicit(imp *PackageImplicit) (starlark.StringDict, error) {
	rec, err := e.loadModule(imp.Load)
	if err != nil {
		return nil, err
	}
	return extension.Extract(rec, imp.Symbols)
}

// loadModule resolves ref against the currently executing file and loads
// it through the cache, folding the module's provenance into the current
// provenance set.
func (e *Evaluator) loadModule(ref string) (*extension.ModuleRecord, error) {
	return e.loadModuleFrom(ref, e.env.currentCell(), e.env.currentDir())
}

func (e *Evaluator) loadModuleFrom(ref, fromCell, fromDir string) (*extension.ModuleRecord, error) {
	inc, err := e.resolver.Resolve(ref, fromCell, fromDir)
	if err != nil {
		return nil, err
	}
	e.env.resolved[ref] = inc.Path

	cached := e.cache.Get(inc.Path) != nil
	rec, err := e.cache.Load(inc)
	if err != nil {
		return nil, err
	}
	if cached {
		e.opts.Metrics.ModuleCacheHit()
	}
	e.env.currentProv().Merge(rec.Provenance)
	return rec, nil
}

// execModule evaluates one module's top level. Implicit-include exports
// are layered over the builtins for explicitly loaded modules; while the
// implicit includes themselves are loading, implicitExports is still nil
// and they see builtins only.
func (e *Evaluator) execModule(path, cell string, prov *extension.Provenance) (starlark.StringDict, error) {
	e.env.pushModule(path, cell, prov)
	defer e.env.popModule()

	predeclared := e.builtins
	if len(e.implicitExports) > 0 {
		predeclared = make(starlark.StringDict, len(e.builtins)+len(e.implicitExports))
		for name, v := range e.builtins {
			predeclared[name] = v
		}
		for name, v := range e.implicitExports {
			predeclared[name] = v
		}
	}

	thread := e.newThread("include:" + path)
	globals, err := execProgram(thread, path, predeclared)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ModuleLoaded()
	e.log.Debugf("loaded module %s (%d exported symbols)", path, len(globals))
	return globals, nil
}

func (e *Evaluator) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Load: func(thread *starlark.Thread, ref string) (starlark.StringDict, error) {
			rec, err := e.loadModule(ref)
			if err != nil {
				return nil, err
			}
			return rec.Exported(), nil
		},
		Print: func(thread *starlark.Thread, msg string) {
			e.log.WithField("thread", thread.Name).Info(msg)
		},
	}
}

// fileOptions is the dialect build files are parsed with: mutable
// globals and top-level control flow stay available, matching the
// permissive build-file language this replaces.
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// execProgram compiles and runs one file. Init is used instead of
// ExecFile so globals stay unfrozen: module state mutable through
// exported functions is part of the supported dialect.
func execProgram(thread *starlark.Thread, path string, predeclared starlark.StringDict) (starlark.StringDict, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions(), path, nil, predeclared.Has)
	if err != nil {
		return nil, err
	}
	return prog.Init(thread, predeclared)
}
