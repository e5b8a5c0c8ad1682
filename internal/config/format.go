package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"
)

func decode(format, path string, data []byte) (map[string]any, error) {
	raw := make(map[string]any)
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	case "toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, err
		}
	case "hcl":
		return decodeHCL(path, data)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return raw, nil
}

func encode(format string, doc map[string]any) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(doc)
	case "json":
		return json.MarshalIndent(doc, "", "  ")
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "hcl":
		return encodeHCL(doc)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// decodeHCL accepts both attribute syntax (system = { theta = 0.5 }) and
// unlabeled block syntax (system { theta = 0.5 }).
func decodeHCL(path string, data []byte) (map[string]any, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, diags
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected HCL body type %T", file.Body)
	}
	out, diags := hclBodyToMap(body)
	if diags.HasErrors() {
		return nil, diags
	}
	return out, nil
}

func hclBodyToMap(body *hclsyntax.Body) (map[string]any, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	out := make(map[string]any, len(body.Attributes)+len(body.Blocks))

	for name, attr := range body.Attributes {
		val, d := attr.Expr.Value(nil)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		v, err := ctyToGo(val)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported value",
				Detail:   fmt.Sprintf("attribute %q: %v", name, err),
				Subject:  attr.SrcRange.Ptr(),
			})
			continue
		}
		out[name] = v
	}

	for _, block := range body.Blocks {
		if len(block.Labels) > 0 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unexpected block labels",
				Detail:   fmt.Sprintf("block %q must not have labels", block.Type),
				Subject:  block.TypeRange.Ptr(),
			})
			continue
		}
		nested, d := hclBodyToMap(block.Body)
		diags = append(diags, d...)
		out[block.Type] = nested
	}

	return out, diags
}

func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	data, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func goToCty(v any) (cty.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, err
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(data, ty)
}

func encodeHCL(doc map[string]any) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for _, key := range sortedKeys(doc) {
		val, err := goToCty(doc[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		body.SetAttributeValue(key, val)
	}
	return f.Bytes(), nil
}
