package eval

import (
	"io"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/encode"
	"github.com/quarrybuild/quarry/pkg/sandbox"
)

// Reserved keys for the trailing provenance entries of a payload's
// values list.
const (
	includesKey = "__includes"
	configsKey  = "__configs"
	envKey      = "__env"
)

// BuildPayload converts a result to the wire payload: one object per
// rule (tagged with its kind) followed by the three reserved provenance
// entries. A failed result produces an empty values list; the failure
// stays visible through the diagnostics.
func BuildPayload(res *Result) (encode.Payload, error) {
	p := encode.Payload{
		Values:      []interface{}{},
		Diagnostics: res.Diagnostics,
	}
	if res.Failed() {
		return p, nil
	}

	for _, rule := range res.Rules {
		attrs := make(starlark.StringDict, len(rule.Attrs)+1)
		for name, v := range rule.Attrs {
			attrs[name] = v
		}
		attrs[sandbox.TypeTagKey] = starlark.String(rule.Kind)
		obj, err := encode.RuleObject(attrs)
		if err != nil {
			return encode.Payload{}, err
		}
		p.Values = append(p.Values, obj)
	}

	p.Values = append(p.Values,
		map[string]interface{}{includesKey: res.Provenance.Files()},
		map[string]interface{}{configsKey: res.Provenance.Configs},
		map[string]interface{}{envKey: res.Provenance.Env},
	)
	return p, nil
}

// ProcessAndWrite evaluates one build file and writes its payload to w
// as a single JSON document. An unencodable value is itself reported as
// a fatal diagnostic paired with an empty values list, so the caller
// always receives a well-formed payload per request.
func (e *Evaluator) ProcessAndWrite(w io.Writer, req Request) error {
	res, err := e.Process(req)
	if err != nil {
		return err
	}
	p, err := BuildPayload(res)
	if err != nil {
		c := diag.NewCollector(res.Diagnostics)
		c.Fatal(diag.SourceParse, err, nil)
		p = encode.Payload{Values: []interface{}{}, Diagnostics: c.List()}
	}
	return encode.WritePayload(w, p)
}
