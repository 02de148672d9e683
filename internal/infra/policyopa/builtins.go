package policyopa

import "github.com/open-policy-agent/opa/ast"

// Intake policies only see the document and its sender, so the allowed set is string and set helpers.
var allowedBuiltins = map[string]struct{}{
	"concat":            {},
	"contains":          {},
	"count":             {},
	"endswith":          {},
	"eq":                {},
	"equal":             {},
	"glob.match":        {},
	"indexof":           {},
	"lower":             {},
	"neq":               {},
	"object.get":        {},
	"split":             {},
	"sprintf":           {},
	"startswith":        {},
	"substring":         {},
	"trim":              {},
	"trim_space":        {},
	"upper":             {},
	"and":               {},
	"assign":            {},
	"gt":                {},
	"gte":               {},
	"internal.member_2": {},
	"lt":                {},
	"lte":               {},
	"or":                {},
	"intersection":      {},
	"union":             {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}
