package eval

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/glob"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newEvaluator(t *testing.T, root string, mutate func(*Options)) *Evaluator {
	t.Helper()
	opts := Options{
		Root:      root,
		RuleKinds: []string{"java_library", "java_binary"},
		Env:       map[string]string{},
	}
	if mutate != nil {
		mutate(&opts)
	}
	ev, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ev
}

func processFile(t *testing.T, ev *Evaluator, rel string) *Result {
	t.Helper()
	res, err := ev.Process(Request{BuildFile: rel})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return res
}

func fatalOf(t *testing.T, res *Result) diag.Diagnostic {
	t.Helper()
	if !res.Failed() {
		t.Fatalf("Expected a failed result, got diagnostics %v", res.Diagnostics)
	}
	return res.Diagnostics[len(res.Diagnostics)-1]
}

func TestRulesCollectedInOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pkg/BUILD": `
java_library(name = "lib", srcs = ["A.java"])
java_binary(name = "bin", deps = [":lib"])
`,
	})
	ev := newEvaluator(t, root, nil)

	res := processFile(t, ev, "pkg/BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if len(res.Rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(res.Rules))
	}
	if res.Rules[0].Name() != "lib" || res.Rules[1].Name() != "bin" {
		t.Errorf("Unexpected order: %s, %s", res.Rules[0].Name(), res.Rules[1].Name())
	}
	if res.Rules[1].Kind != "java_binary" {
		t.Errorf("Expected kind java_binary, got %s", res.Rules[1].Kind)
	}
}

func TestDuplicateRuleNamesAreAppended(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
java_library(name = "lib")
java_library(name = "lib", srcs = ["B.java"])
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if len(res.Rules) != 2 {
		t.Errorf("Expected both registrations kept, got %d", len(res.Rules))
	}
}

func TestLoadBindsExportedSymbols(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
def make_name(base):
    return base + "-suffix"
`,
		"BUILD": `
load("//defs:EXT", renamed = "make_name")
java_library(name = renamed("lib"))
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "lib-suffix" {
		t.Errorf("Expected renamed symbol to work, got %q", res.Rules[0].Name())
	}
}

func TestModulesEvaluateOncePerInstance(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `value = ["shared"]`,
		"a/BUILD":  `load("//defs:EXT", "value")` + "\n" + `java_library(name = value[0])`,
		"b/BUILD":  `load("//defs:EXT", "value")` + "\n" + `java_library(name = value[0])`,
	})
	ev := newEvaluator(t, root, nil)

	if res := processFile(t, ev, "a/BUILD"); res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res := processFile(t, ev, "b/BUILD"); res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if ev.cache.Len() != 1 {
		t.Errorf("Expected a single cached module, got %d", ev.cache.Len())
	}
}

func TestSiblingModulesAreIsolated(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/FIRST":  `first_symbol = 1`,
		"defs/SECOND": `second_symbol = first_symbol + 1`,
		"BUILD": `
load("//defs:FIRST", "first_symbol")
load("//defs:SECOND", "second_symbol")
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindUndefinedReference) {
		t.Errorf("Expected undefined-reference, got %s: %s", d.Exception.Type, d.Message)
	}
	if !strings.Contains(d.Message, "undefined: first_symbol") {
		t.Errorf("Unexpected message: %s", d.Message)
	}
}

func TestExportWhitelist(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
__all__ = ["visible"]
visible = "v"
hidden = "h"
`,
		"ok/BUILD":  `load("//defs:EXT", "visible")` + "\n" + `java_library(name = visible)`,
		"bad/BUILD": `load("//defs:EXT", "hidden")`,
	})
	ev := newEvaluator(t, root, nil)

	if res := processFile(t, ev, "ok/BUILD"); res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}

	res := processFile(t, ev, "bad/BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindSymbolNotFound) {
		t.Fatalf("Expected symbol-not-found, got %s: %s", d.Exception.Type, d.Message)
	}
	wantPath := filepath.Join(root, "defs", "EXT")
	if !strings.Contains(d.Message, `"hidden" is not defined in `+wantPath) {
		t.Errorf("Expected the absolute module path in the message, got %s", d.Message)
	}
}

func TestUnderscoreNamesArePrivate(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
_internal = "i"

def helper():
    return _internal
`,
		"BUILD": `load("//defs:EXT", "_internal")`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindSymbolNotFound) {
		t.Errorf("Expected symbol-not-found, got %s: %s", d.Exception.Type, d.Message)
	}
}

func TestPrivateStateReachableThroughExportedFunction(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
_counter = [0]

def bump():
    _counter[0] += 1
    return _counter[0]
`,
		"BUILD": `
load("//defs:EXT", "bump")
java_library(name = "lib" + str(bump()))
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "lib1" {
		t.Errorf("Expected closure over private state, got %q", res.Rules[0].Name())
	}
}

func TestImplicitIncludesApplyToBuildFilesAndModules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/IMPLICIT": `
def common_name(base):
    return base + "-common"
`,
		"defs/EXT": `
def wrapped(base):
    return common_name(base)
`,
		"BUILD": `
load("//defs:EXT", "wrapped")
java_library(name = common_name("direct"))
java_library(name = wrapped("viamodule"))
`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.ImplicitIncludes = []string{"//defs:IMPLICIT"}
	})
	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "direct-common" || res.Rules[1].Name() != "viamodule-common" {
		t.Errorf("Unexpected names: %s, %s", res.Rules[0].Name(), res.Rules[1].Name())
	}
	if !res.Provenance.HasFile(filepath.Join(root, "defs", "IMPLICIT")) {
		t.Error("Expected the implicit include in the file's provenance")
	}
}

func TestImplicitIncludesDoNotSeeEachOther(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/FIRST":  `first = 1`,
		"defs/SECOND": `second = first + 1`,
		"BUILD":       `java_library(name = "lib")`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.ImplicitIncludes = []string{"//defs:FIRST", "//defs:SECOND"}
	})
	res := processFile(t, ev, "BUILD")
	d := fatalOf(t, res)
	if !strings.Contains(d.Message, "undefined: first") {
		t.Errorf("Expected the second implicit include to fail, got %s", d.Message)
	}
}

func TestRelativeLoadSameDirectoryOnly(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pkg/HELPERS": `helper = "h"`,
		"pkg/BUILD":   `load(":HELPERS", "helper")` + "\n" + `java_library(name = helper)`,
		"bad/BUILD":   `load(":sub/HELPERS", "helper")`,
	})
	ev := newEvaluator(t, root, nil)

	if res := processFile(t, ev, "pkg/BUILD"); res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}

	res := processFile(t, ev, "bad/BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindInvalidReference) {
		t.Fatalf("Expected invalid-reference, got %s", d.Exception.Type)
	}
	if !strings.Contains(d.Message, "Relative loads work only for files in the same directory") {
		t.Errorf("Unexpected message: %s", d.Message)
	}
}

func TestRelativeLoadCannotNameDirectories(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pkg/sub/HELPERS": `helper = "h"`,
		"pkg/sub/BUILD":   `load(":..", "helper")`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "pkg/sub/BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindInvalidReference) {
		t.Fatalf("Expected invalid-reference, got %s: %s", d.Exception.Type, d.Message)
	}
	if !strings.Contains(d.Message, "Relative loads work only for files in the same directory") {
		t.Errorf("Unexpected message: %s", d.Message)
	}
}

func TestLoadCycleIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/A": `load("//defs:B", "b")` + "\n" + `a = 1`,
		"defs/B": `load("//defs:A", "a")` + "\n" + `b = 2`,
		"BUILD":  `load("//defs:A", "a")`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindLoadCycle) {
		t.Errorf("Expected load-cycle, got %s: %s", d.Exception.Type, d.Message)
	}
}

func TestReadConfigRecordsRawValues(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
compiler = read_config("cxx", "compiler", "gcc")
shell = read_config("user", "shell", "/bin/sh")
java_library(name = compiler + "-" + shell)
`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.Configs = map[string]map[string]string{"cxx": {"compiler": "clang"}}
	})
	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "clang-/bin/sh" {
		t.Errorf("Unexpected config values: %q", res.Rules[0].Name())
	}
	if v := res.Provenance.Configs["cxx"]["compiler"]; v == nil || *v != "clang" {
		t.Errorf("Expected raw value recorded, got %v", v)
	}
	// The default was returned, but the absent raw value is what gets
	// recorded.
	if v, ok := res.Provenance.Configs["user"]["shell"]; !ok || v != nil {
		t.Errorf("Expected absent config recorded as nil, got %v %v", v, ok)
	}
}

func TestEnvironmentReadsAreRecorded(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
home = getenv("HOME", "nowhere")
missing = environ.get("MISSING")
java_library(name = home)
`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.Env = map[string]string{"HOME": "/home/u"}
	})
	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if v := res.Provenance.Env["HOME"]; v == nil || *v != "/home/u" {
		t.Errorf("Expected HOME recorded, got %v", v)
	}
	if v, ok := res.Provenance.Env["MISSING"]; !ok || v != nil {
		t.Errorf("Expected MISSING recorded as absent, got %v %v", v, ok)
	}
}

type stubGlob struct {
	result glob.Result
	calls  int
}

func (s *stubGlob) Query(dir string, include, exclude []string) (glob.Result, error) {
	s.calls++
	return s.result, nil
}

func TestGlobWarningIsOrderedDiagnostic(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
srcs = glob(["*.java"])
java_library(name = "lib", srcs = srcs)
`,
	})
	stub := &stubGlob{result: glob.Result{
		Files:   []string{"A.java"},
		Warning: "results may be stale",
	}}
	ev := newEvaluator(t, root, func(o *Options) { o.Globber = stub })

	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if stub.calls != 1 {
		t.Fatalf("Expected 1 glob query, got %d", stub.calls)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(res.Diagnostics))
	}
	d := res.Diagnostics[0]
	if d.Level != diag.LevelWarning || d.Source != diag.SourceGlobProvider {
		t.Errorf("Unexpected diagnostic: %+v", d)
	}
}

func TestRuleExistsStringForm(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
java_library(name = "first")
java_library(name = "before-" + str(rule_exists("first")) + "-" + str(rule_exists("missing")))
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[1].Name() != "before-True-False" {
		t.Errorf("Unexpected rule_exists rendering: %q", res.Rules[1].Name())
	}
}

func TestPackageAndRepositoryName(t *testing.T) {
	root := writeTree(t, map[string]string{
		"java/lib/BUILD": `java_library(name = package_name() + repository_name())`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "java/lib/BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "java/lib@" {
		t.Errorf("Unexpected name: %q", res.Rules[0].Name())
	}
}

func TestNamedCellRepositoryName(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `java_library(name = repository_name())`,
	})
	ev := newEvaluator(t, root, func(o *Options) { o.CellName = "tp2" })
	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "@tp2" {
		t.Errorf("Unexpected repository name: %q", res.Rules[0].Name())
	}
}

func TestTopLevelRestrictionsInModules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `probe = rule_exists("anything")`,
		"BUILD":    `load("//defs:EXT", "probe")`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindUsageRestriction) {
		t.Fatalf("Expected usage-restriction, got %s: %s", d.Exception.Type, d.Message)
	}
	if !strings.Contains(d.Message, "Cannot use `rule_exists()` at the top-level of an included file.") {
		t.Errorf("Unexpected message: %s", d.Message)
	}
}

func TestModuleFunctionsMayUseRestrictedBuiltinsLater(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
def lib_if_absent(name):
    if not rule_exists(name):
        java_library(name = name)
`,
		"BUILD": `
load("//defs:EXT", "lib_if_absent")
lib_if_absent("lib")
lib_if_absent("lib")
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if len(res.Rules) != 1 {
		t.Errorf("Expected the second registration skipped, got %d rules", len(res.Rules))
	}
}

func TestImplicitPackageSymbol(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/PKG": `default_visibility = ["PUBLIC"]`,
		"BUILD": `
java_library(
    name = "lib",
    visibility = implicit_package_symbol("vis", []),
)
`,
	})
	ev := newEvaluator(t, root, nil)
	res, err := ev.Process(Request{
		BuildFile: "BUILD",
		Implicit: &PackageImplicit{
			Load:    "//defs:PKG",
			Symbols: map[string]string{"vis": "default_visibility"},
		},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	vis := res.Rules[0].Attrs["visibility"]
	list, ok := vis.(*starlark.List)
	if !ok || list.Len() != 1 {
		t.Fatalf("Expected the package symbol bound, got %v", vis)
	}
}

func TestIncludeDefsReturnsNamespace(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `
suffix = "-x"

def decorate(base):
    return base + suffix
`,
		"BUILD": `
defs = include_defs("//defs:EXT")
java_library(name = defs.decorate("lib"))
`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "lib-x" {
		t.Errorf("Unexpected name: %q", res.Rules[0].Name())
	}
	if !res.Provenance.HasFile(filepath.Join(root, "defs", "EXT")) {
		t.Error("Expected include_defs target in provenance")
	}
}

func TestFailWithAttributeIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `fail("must not be empty", "srcs")`,
	})
	res := processFile(t, newEvaluator(t, root, nil), "BUILD")
	d := fatalOf(t, res)
	if d.Exception.Type != string(diag.KindExplicitFailure) {
		t.Fatalf("Expected explicit-failure, got %s", d.Exception.Type)
	}
	if !strings.Contains(d.Message, "attribute srcs: must not be empty") {
		t.Errorf("Unexpected message: %s", d.Message)
	}
	if len(d.Exception.Traceback) == 0 {
		t.Error("Expected a traceback on the fatal diagnostic")
	}
}

func TestCrossCellLoad(t *testing.T) {
	root := writeTree(t, map[string]string{
		"third-party/macros/DEFS": `tp_name = "from-cell"`,
		"BUILD":                   `load("@tp//macros:DEFS", "tp_name")` + "\n" + `java_library(name = tp_name)`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.CellRoots = map[string]string{"tp": filepath.Join(root, "third-party")}
	})
	res := processFile(t, ev, "BUILD")
	if res.Failed() {
		t.Fatalf("Unexpected failure: %v", res.Diagnostics)
	}
	if res.Rules[0].Name() != "from-cell" {
		t.Errorf("Unexpected name: %q", res.Rules[0].Name())
	}
}

func TestSelectAttributesEncodeTagged(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `
java_library(
    name = "lib",
    deps = ["//base:core"] + select({"//cfg:debug": ["//tools:trace"]}, no_match_error = "pick a config"),
)
`,
	})
	ev := newEvaluator(t, root, nil)

	var buf bytes.Buffer
	if err := ev.ProcessAndWrite(&buf, Request{BuildFile: "BUILD"}); err != nil {
		t.Fatalf("ProcessAndWrite failed: %v", err)
	}

	var payload struct {
		Values []map[string]interface{} `json:"values"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}

	deps, ok := payload.Values[0]["deps"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a tagged object for deps, got %T", payload.Values[0]["deps"])
	}
	if deps["@type"] != "SelectorList" {
		t.Fatalf("Expected SelectorList tag, got %v", deps["@type"])
	}
	items, ok := deps["items"].([]interface{})
	if !ok || len(items) != 2 {
		t.Fatalf("Expected 2 concatenated parts, got %v", deps["items"])
	}
	if first, ok := items[0].([]interface{}); !ok || first[0] != "//base:core" {
		t.Errorf("Expected the plain list first, got %v", items[0])
	}
	sel, ok := items[1].(map[string]interface{})
	if !ok || sel["@type"] != "SelectorValue" {
		t.Fatalf("Expected SelectorValue second, got %v", items[1])
	}
	if sel["no_match_error"] != "pick a config" {
		t.Errorf("Unexpected no-match message: %v", sel["no_match_error"])
	}
	conditions, ok := sel["conditions"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a conditions object, got %T", sel["conditions"])
	}
	if branch, ok := conditions["//cfg:debug"].([]interface{}); !ok || branch[0] != "//tools:trace" {
		t.Errorf("Unexpected condition branch: %v", conditions["//cfg:debug"])
	}
}

func TestPayloadShape(t *testing.T) {
	root := writeTree(t, map[string]string{
		"defs/EXT": `value = "v"`,
		"BUILD": `
load("//defs:EXT", "value")
java_library(name = "lib", srcs = ["A.java"], deprecated = None)
`,
	})
	ev := newEvaluator(t, root, func(o *Options) {
		o.Configs = map[string]map[string]string{"cxx": {"compiler": "clang"}}
	})

	var buf bytes.Buffer
	err := ev.ProcessAndWrite(&buf, Request{BuildFile: "BUILD"})
	if err != nil {
		t.Fatalf("ProcessAndWrite failed: %v", err)
	}

	var payload struct {
		Values      []map[string]interface{} `json:"values"`
		Diagnostics []interface{}            `json:"diagnostics"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if len(payload.Values) != 4 {
		t.Fatalf("Expected rule + 3 reserved entries, got %d", len(payload.Values))
	}

	rule := payload.Values[0]
	if rule["name"] != "lib" {
		t.Errorf("Unexpected rule object: %v", rule)
	}
	if rule["quarry.type"] != "java_library" {
		t.Errorf("Expected the kind tag, got %v", rule["quarry.type"])
	}
	if _, present := rule["deprecated"]; present {
		t.Error("Expected None attributes dropped from the rule object")
	}

	includes, ok := payload.Values[1]["__includes"].([]interface{})
	if !ok {
		t.Fatalf("Expected __includes entry, got %v", payload.Values[1])
	}
	if len(includes) != 2 {
		t.Errorf("Expected build file and module in __includes, got %v", includes)
	}
	if includes[0] != filepath.Join(root, "BUILD") {
		t.Errorf("Expected the build file first, got %v", includes[0])
	}
	if _, ok := payload.Values[2]["__configs"]; !ok {
		t.Errorf("Expected __configs entry, got %v", payload.Values[2])
	}
	if _, ok := payload.Values[3]["__env"]; !ok {
		t.Errorf("Expected __env entry, got %v", payload.Values[3])
	}
}

func TestFailedFileProducesEmptyValues(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `java_library(name = undefined_symbol)`,
	})
	ev := newEvaluator(t, root, nil)

	var buf bytes.Buffer
	if err := ev.ProcessAndWrite(&buf, Request{BuildFile: "BUILD"}); err != nil {
		t.Fatalf("ProcessAndWrite failed: %v", err)
	}

	var payload struct {
		Values      []interface{}     `json:"values"`
		Diagnostics []diag.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if len(payload.Values) != 0 {
		t.Errorf("Expected empty values, got %v", payload.Values)
	}
	if len(payload.Diagnostics) != 1 || payload.Diagnostics[0].Level != diag.LevelFatal {
		t.Fatalf("Expected a single fatal diagnostic, got %v", payload.Diagnostics)
	}
	if payload.Diagnostics[0].Source != diag.SourceParse {
		t.Errorf("Expected parse source, got %s", payload.Diagnostics[0].Source)
	}
}

func TestSeedDiagnosticsAreCarried(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD": `java_library(name = "lib")`,
	})
	ev := newEvaluator(t, root, nil)
	res, err := ev.Process(Request{
		BuildFile: "BUILD",
		Diagnostics: []diag.Diagnostic{
			{Level: diag.LevelWarning, Source: "upstream", Message: "carried over"},
		},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Message != "carried over" {
		t.Errorf("Expected seeded diagnostic first, got %v", res.Diagnostics)
	}
}
