package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"octo/internal/domain"
	cryptoinfra "octo/internal/infra/crypto"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

// DecisionQuery is the rule an intake policy must define. An undefined result means no opinion.
const DecisionQuery = "data.octo.intake.decision"

// Engine evaluates the local intake admission policy. It implements usecase.IntakePolicy.
type Engine struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

// NewEngineFromPath loads every .rego and data.json file under path (a file or a directory).
func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("policy path is required")
	}
	hash, err := ComputePolicyHash(path)
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, hash, rego.Load([]string{path}, nil))
}

// NewEngineFromModule compiles a single in-memory module.
func NewEngineFromModule(ctx context.Context, filename, source string) (*Engine, error) {
	sum, err := cryptoinfra.CanonicalizeAny(policyHashPayload{Files: []policyHashFile{{Path: filename, SHA256: sha256Hex([]byte(source))}}})
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, sha256Hex(sum), rego.Module(filename, source))
}

func newEngine(ctx context.Context, hash string, source func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(DecisionQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare intake policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, policyHash: hash}, nil
}

func (e *Engine) PolicyHash() string {
	if e == nil {
		return ""
	}
	return e.policyHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.IntakePolicyInput) (domain.IntakeDecision, error) {
	if e == nil {
		return domain.IntakeDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.IntakeDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.IntakeDecision{}, nil
	}
	return decodeDecision(results[0].Expressions[0].Value)
}

// decodeDecision accepts either a bare status string or an object with decision and reason.
func decodeDecision(value any) (domain.IntakeDecision, error) {
	var out domain.IntakeDecision
	switch v := value.(type) {
	case string:
		out.Decision = domain.IntakeStatus(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return domain.IntakeDecision{}, err
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return domain.IntakeDecision{}, fmt.Errorf("decode intake decision: %w", err)
		}
	}
	switch out.Decision {
	case "", domain.IntakeNone, domain.IntakeStaged, domain.IntakeAccepted, domain.IntakeRejected:
		return out, nil
	}
	return domain.IntakeDecision{}, fmt.Errorf("unsupported intake decision %q", out.Decision)
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}

type policyHashPayload struct {
	Files []policyHashFile `json:"files"`
}

type policyHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ComputePolicyHash fingerprints the policy files so operators can tell which version admitted a document.
func ComputePolicyHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	var files []policyHashFile
	if info.IsDir() {
		files, err = collectPolicyFiles(os.DirFS(path))
		if err != nil {
			return "", err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		files = []policyHashFile{{Path: filepath.Base(path), SHA256: sha256Hex(data)}}
	}
	canonical, err := cryptoinfra.CanonicalizeAny(policyHashPayload{Files: files})
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

func collectPolicyFiles(fsys fs.FS) ([]policyHashFile, error) {
	var files []policyHashFile
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == "." {
			return nil
		}
		base := filepath.Base(path)
		if d.IsDir() {
			if strings.HasPrefix(base, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if base != "data.json" && !strings.HasSuffix(base, ".rego") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files = append(files, policyHashFile{Path: filepath.ToSlash(path), SHA256: sha256Hex(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}
