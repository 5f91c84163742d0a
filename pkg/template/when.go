package template

import (
	"fmt"
	"sync"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
)

var (
	whenEnv     *cel.Env
	whenEnvErr  error
	whenEnvOnce sync.Once
	programs    sync.Map
)

func env() (*cel.Env, error) {
	whenEnvOnce.Do(func() {
		whenEnv, whenEnvErr = cel.NewEnv(
			cel.Variable("os", cel.StringType),
			cel.Variable("arch", cel.StringType),
			cel.Variable("version", cel.StringType),
		)
	})
	return whenEnv, whenEnvErr
}

func program(expression string) (cel.Program, error) {
	if p, ok := programs.Load(expression); ok {
		return p.(cel.Program), nil
	}
	e, err := env()
	if err != nil {
		return nil, err
	}
	ast, issues := e.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return a bool, got %s", ast.OutputType())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}
	programs.Store(expression, prg)
	return prg, nil
}

// EvaluateWhen evaluates a boolean CEL condition over os, arch and version.
// An empty expression is true.
func EvaluateWhen(expression string, p platform.Platform, version string) (bool, error) {
	if expression == "" {
		return true, nil
	}
	prg, err := program(expression)
	if err != nil {
		return false, fmt.Errorf("invalid when expression %q: %w", expression, err)
	}
	out, _, err := prg.Eval(map[string]any{
		"os":      p.OS,
		"arch":    p.Arch,
		"version": version,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	b, ok := out.(celtypes.Bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %v", expression, out.Type())
	}
	return bool(b), nil
}

// SelectPackage returns the first package entry matching the platform, trying
// "os/arch", "os/*", "os" and "*" and skipping entries whose when condition is false
func SelectPackage(desc types.ToolDescriptor, p platform.Platform, version string) (types.PackageSpec, error) {
	for _, key := range []string{p.OS + "/" + p.Arch, p.OS + "/*", p.OS, "*"} {
		spec, ok := desc.PlatformPackageMap[key]
		if !ok {
			continue
		}
		match, err := EvaluateWhen(spec.When, p, version)
		if err != nil {
			return types.PackageSpec{}, err
		}
		if match {
			return spec, nil
		}
	}
	return types.PackageSpec{}, fmt.Errorf("%s has no package for %s", desc.Name, p)
}
