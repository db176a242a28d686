package compartment

import (
	"encoding/json"

	"reach/internal/trust"
)

// DeclEvaluator is the default in-process EvaluatorPort. Block source is
// a declarative JSON descriptor rather than executable text: each export
// names the capability calls it makes, in order, and the value it
// returns when every call is allowed. All effects still flow through the
// caps surface the bootstrap hands the block, so the kernel mediates
// every one of them.
//
// Descriptor shape:
//
//	{"exports": {"main": {
//	    "calls": [{"cap": "storage.read", "args": {"digest": "sha256:..."}}],
//	    "value": {"ok": true}
//	}}}
type DeclEvaluator struct{}

type declSource struct {
	Exports map[string]declEntry `json:"exports"`
}

type declEntry struct {
	Calls []declCall     `json:"calls"`
	Value map[string]any `json:"value"`
}

type declCall struct {
	Cap  string         `json:"cap"`
	Args map[string]any `json:"args"`
}

func (DeclEvaluator) Eval(sourceText string, caps Caps) (Block, error) {
	var src declSource
	if err := json.Unmarshal([]byte(sourceText), &src); err != nil {
		return nil, err
	}
	return &declBlock{exports: src.Exports, caps: caps}, nil
}

type declBlock struct {
	exports map[string]declEntry
	caps    Caps
}

func (b *declBlock) Invoke(exportName string, args map[string]any) (map[string]any, []trust.Reason, error) {
	entry, ok := b.exports[exportName]
	if !ok {
		return nil, nil, ErrEntryMissing
	}

	var reasons []trust.Reason
	for _, call := range entry.Calls {
		var fn func(map[string]any) (map[string]any, []trust.Reason)
		switch call.Cap {
		case "net.fetch":
			fn = b.caps.NetFetch
		case "storage.read":
			fn = b.caps.StorageRead
		case "storage.write":
			fn = b.caps.StorageWrite
		}
		if fn == nil {
			reasons = append(reasons, trust.Reason{Code: "CAP_UNKNOWN", Subject: call.Cap})
			continue
		}
		_, callReasons := fn(call.Args)
		reasons = append(reasons, callReasons...)
	}

	if len(reasons) > 0 {
		return nil, trust.Normalize(reasons, trust.NormalizeOptions{}), nil
	}
	return entry.Value, nil, nil
}
