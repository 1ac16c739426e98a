package plugin

import (
	"fmt"
	"strings"
)

// hardenedAllowedModules is the import allow-list hardened mode enforces
// for Python plugin entries (spec §4.14 Hardened mode).
var hardenedAllowedModules = []string{
	"json", "re", "datetime", "time", "math", "hashlib", "uuid",
	"base64", "collections", "itertools", "functools", "typing",
}

// hardenedBlockedModules are explicitly rejected even though they are not
// on the allow-list, so the error message names the real reason instead of
// a generic "not allowed" (spec §4.14: "A block-list explicitly rejects
// raw-network and pickle modules").
var hardenedBlockedModules = []string{"socket", "pickle"}

// hardenedDisabledBuiltins are builtins the prelude neuters (spec §4.14:
// "disables eval, exec, compile, open").
var hardenedDisabledBuiltins = []string{"eval", "exec", "compile", "open"}

// BuildHardenedPrelude renders the Python source injected ahead of a
// plugin entry point's own code when sandbox.strategy calls for hardened
// mode. It replaces the builtin __import__ hook with an allow-list check
// and deletes the disabled builtins from the module namespace.
func BuildHardenedPrelude() string {
	var b strings.Builder
	b.WriteString("import builtins as _kira_builtins\n")
	b.WriteString("_KIRA_ALLOWED_MODULES = {\n")
	for _, mod := range hardenedAllowedModules {
		fmt.Fprintf(&b, "    %q,\n", mod)
	}
	b.WriteString("}\n")
	b.WriteString("_KIRA_BLOCKED_MODULES = {\n")
	for _, mod := range hardenedBlockedModules {
		fmt.Fprintf(&b, "    %q,\n", mod)
	}
	b.WriteString("}\n")
	b.WriteString(`_kira_real_import = _kira_builtins.__import__

def _kira_guarded_import(name, *args, **kwargs):
    top = name.split(".")[0]
    if top in _KIRA_BLOCKED_MODULES:
        raise ImportError(f"module {name!r} is blocked in hardened plugin mode")
    if top not in _KIRA_ALLOWED_MODULES:
        raise ImportError(f"module {name!r} is not in the hardened-mode allow-list")
    return _kira_real_import(name, *args, **kwargs)

_kira_builtins.__import__ = _kira_guarded_import
`)
	for _, name := range hardenedDisabledBuiltins {
		fmt.Fprintf(&b, "if hasattr(_kira_builtins, %q):\n    delattr(_kira_builtins, %q)\n", name, name)
	}
	return b.String()
}
