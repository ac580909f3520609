package wire

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// boxAny adapts a generator to report its result as type `any`, without
// tripping gopter's Map heuristic (which misreads a bare `any` return type
// as a *gopter.GenResult).
func boxAny(g gopter.Gen) gopter.Gen {
	return func(params *gopter.GenParameters) *gopter.GenResult {
		result := g(params)
		value, ok := result.Retrieve()
		if !ok {
			return &gopter.GenResult{Shrinker: gopter.NoShrinker, ResultType: anyType}
		}
		return &gopter.GenResult{
			Shrinker:   gopter.NoShrinker,
			Result:     value,
			ResultType: anyType,
		}
	}
}

func TestPropValidationPreservesKeys(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	genValue := gen.OneGenOf(
		boxAny(gen.AlphaString()),
		boxAny(gen.Float64Range(-1e6, 1e6)),
		boxAny(gen.Bool()),
		boxAny(gen.Const("function f() { return 1 }")),
		boxAny(gen.Const("Symbol(test)")),
	)

	genProps := gen.MapOf(gen.Identifier(), genValue)

	properties.Property("output map has the same keys as the input", prop.ForAll(
		func(in map[string]any) bool {
			out, _ := validateProp("", in)
			m, ok := out.(map[string]any)
			if !ok {
				return len(in) == 0
			}
			if len(m) != len(in) {
				return false
			}
			for k := range in {
				if _, present := m[k]; !present {
					return false
				}
			}
			return true
		},
		genProps,
	))

	properties.TestingRun(t)
}

func TestWireRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("serialize(parse(w)) == w", prop.ForAll(
		func(text string, shape int) bool {
			var tree *Tree
			switch shape % 4 {
			case 0:
				tree = Element("div", Props{"className": text}, Text(text))
			case 1:
				tree = Element("section", Props{"id": text},
					Element("p", nil, Text(text)),
					Element("p", nil, Text(text+"!")),
				)
			case 2:
				tree = ClientRef("./components/Widget.client.js#default", Props{"label": text})
			default:
				tree = Fragment(Text(text), Element("span", nil))
			}

			s := NewSerializer()
			out, err := s.SerializeTree(tree)
			if err != nil {
				return false
			}
			p, err := Parse(out)
			if err != nil {
				return false
			}
			return p.Serialize() == out
		},
		gen.AlphaString(),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
