package schema

import (
	"fmt"
	"strings"

	"github.com/caracal/kitchen/pkg/tree"
)

// ParseDType parses a dtype string such as "string", "File", "List[int]",
// "Union[File,str]", "Dict[str,int]", "Optional[File]".
func ParseDType(s string) (*DType, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "["); i >= 0 && strings.HasSuffix(s, "]") {
		name := s[:i]
		inner := s[i+1 : len(s)-1]
		args := splitTopLevel(inner)
		switch name {
		case "List":
			if len(args) != 1 {
				return nil, fmt.Errorf("List[T] takes exactly one type argument, got %q", s)
			}
			elem, err := ParseDType(args[0])
			if err != nil {
				return nil, err
			}
			return &DType{Name: s, Kind: KindList, Elem: elem}, nil
		case "Optional":
			if len(args) != 1 {
				return nil, fmt.Errorf("Optional[T] takes exactly one type argument, got %q", s)
			}
			elem, err := ParseDType(args[0])
			if err != nil {
				return nil, err
			}
			return &DType{Name: s, Kind: KindOptional, Elem: elem}, nil
		case "Tuple":
			elems := make([]*DType, len(args))
			for i, a := range args {
				d, err := ParseDType(a)
				if err != nil {
					return nil, err
				}
				elems[i] = d
			}
			return &DType{Name: s, Kind: KindTuple, Elems: elems}, nil
		case "Union":
			elems := make([]*DType, len(args))
			for i, a := range args {
				d, err := ParseDType(a)
				if err != nil {
					return nil, err
				}
				elems[i] = d
			}
			return &DType{Name: s, Kind: KindUnion, Elems: elems}, nil
		case "Dict":
			if len(args) != 2 {
				return nil, fmt.Errorf("Dict[K,V] takes exactly two type arguments, got %q", s)
			}
			k, err := ParseDType(args[0])
			if err != nil {
				return nil, err
			}
			v, err := ParseDType(args[1])
			if err != nil {
				return nil, err
			}
			return &DType{Name: s, Kind: KindDict, Key: k, Value: v}, nil
		default:
			return nil, fmt.Errorf("unknown composite dtype %q", name)
		}
	}

	switch s {
	case "File":
		return &DType{Name: s, Kind: KindFile}, nil
	case "Directory":
		return &DType{Name: s, Kind: KindDirectory}, nil
	case "MS":
		return &DType{Name: s, Kind: KindMS}, nil
	case "URI":
		return &DType{Name: s, Kind: KindURI}, nil
	case "str", "string", "int", "integer", "float", "floating", "bool", "boolean":
		return &DType{Name: s, Kind: KindScalar}, nil
	default:
		return &DType{Name: s, Kind: KindScalar}, nil
	}
}

// splitTopLevel splits a comma-separated list, respecting nested brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

// ParseEntry parses a schema entry from either its longhand mapping form or
// shorthand string form `type = default * "info"` (dtype, optional default
// after '=', optional required marker '*', optional trailing quoted doc).
func ParseEntry(name string, n *tree.Node) (*Entry, error) {
	if n == nil {
		return nil, fmt.Errorf("parameter %q: empty schema entry", name)
	}
	if n.Kind == tree.KindString {
		return parseShorthand(name, n.String)
	}
	if n.Kind != tree.KindMap {
		return nil, fmt.Errorf("parameter %q: schema entry must be a mapping or shorthand string", name)
	}

	// A mapping with no "dtype" key and no recognized leaf attribute is a
	// nested group (spec §4.2): its members are addressable by dot path.
	if _, hasDtype := n.Map.Get("dtype"); !hasDtype && looksLikeGroup(n) {
		group := make(map[string]*Entry)
		for _, k := range n.Map.Keys() {
			v, _ := n.Map.Get(k)
			sub, err := ParseEntry(name+"."+k, v)
			if err != nil {
				return nil, err
			}
			group[k] = sub
		}
		return &Entry{Name: name, Group: group}, nil
	}

	e := &Entry{Name: name}
	if v, ok := n.Map.Get("dtype"); ok {
		d, err := ParseDType(v.String)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		e.DType = d
	} else {
		e.DType = &DType{Name: "string", Kind: KindScalar}
	}
	if v, ok := n.Map.Get("default"); ok {
		e.Default = v.ToAny()
		e.HasDefault = true
	}
	if v, ok := n.Map.Get("required"); ok {
		e.Required = v.Bool
	}
	if v, ok := n.Map.Get("implicit"); ok {
		e.Implicit = v.String
	}
	if v, ok := n.Map.Get("choices"); ok {
		e.Choices = stringListOf(v)
	}
	if v, ok := n.Map.Get("element_choices"); ok {
		e.ElementChoices = stringListOf(v)
	}
	if v, ok := n.Map.Get("must_exist"); ok {
		e.MustExist = v.Bool
	}
	if v, ok := n.Map.Get("writable"); ok {
		e.Writable = v.Bool
	}
	if v, ok := n.Map.Get("mkdir"); ok {
		e.Mkdir = v.Bool
	}
	if v, ok := n.Map.Get("remove_if_exists"); ok {
		e.RemoveIfExists = v.Bool
	}
	if v, ok := n.Map.Get("access_parent_dir"); ok {
		e.AccessParentDir = v.Bool
	}
	if v, ok := n.Map.Get("skip_freshness_checks"); ok {
		e.SkipFreshnessCheck = v.Bool
	}
	if v, ok := n.Map.Get("nom_de_guerre"); ok {
		e.NomDeGuerre = v.String
	}
	if v, ok := n.Map.Get("category"); ok {
		e.Category = Category(v.String)
		e.CategorySet = true
	}
	if v, ok := n.Map.Get("aliases"); ok {
		e.Aliases = stringListOf(v)
	}
	if v, ok := n.Map.Get("policies"); ok {
		e.Policies = parsePolicies(v)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func looksLikeGroup(n *tree.Node) bool {
	const leafKeys = "default required implicit choices element_choices must_exist writable mkdir remove_if_exists access_parent_dir skip_freshness_checks nom_de_guerre category aliases policies info"
	for _, k := range n.Map.Keys() {
		if strings.Contains(leafKeys, k) {
			return false
		}
	}
	return n.Map.Len() > 0
}

// parseShorthand parses "type = default * \"info\"": dtype, optional
// "= default", optional "*" required marker, optional trailing quoted doc.
func parseShorthand(name, s string) (*Entry, error) {
	rest := s
	var docPart string
	if idx := strings.Index(rest, "\""); idx >= 0 {
		docPart = strings.Trim(rest[idx:], "\" ")
		rest = rest[:idx]
	}
	_ = docPart // documentation text is informational only to the kernel

	required := false
	rest = strings.TrimSpace(rest)
	if strings.HasSuffix(rest, "*") {
		required = true
		rest = strings.TrimSpace(strings.TrimSuffix(rest, "*"))
	}

	var dtypeStr, defaultStr string
	hasDefault := false
	if idx := strings.Index(rest, "="); idx >= 0 {
		dtypeStr = strings.TrimSpace(rest[:idx])
		defaultStr = strings.TrimSpace(rest[idx+1:])
		hasDefault = true
	} else {
		dtypeStr = rest
	}
	if dtypeStr == "" {
		dtypeStr = "string"
	}

	d, err := ParseDType(dtypeStr)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	e := &Entry{Name: name, DType: d, Required: required}
	if hasDefault {
		coerced, err := Coerce(defaultStr, d)
		if err != nil {
			return nil, fmt.Errorf("parameter %q default: %w", name, err)
		}
		e.Default = coerced
		e.HasDefault = true
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func stringListOf(n *tree.Node) []string {
	if n == nil {
		return nil
	}
	if n.Kind == tree.KindString {
		return []string{n.String}
	}
	out := make([]string, 0, len(n.List))
	for _, item := range n.List {
		out = append(out, item.String)
	}
	return out
}

func parsePolicies(n *tree.Node) Policies {
	var p Policies
	if n == nil || n.Kind != tree.KindMap {
		return p
	}
	get := func(k string) (*tree.Node, bool) { return n.Map.Get(k) }
	if v, ok := get("prefix"); ok {
		p.Prefix = v.String
	} else {
		p.Prefix = "--"
	}
	if v, ok := get("key_value"); ok {
		p.KeyValue = v.Bool
	}
	if v, ok := get("positional"); ok {
		p.Positional = v.Bool
	}
	if v, ok := get("positional_head"); ok {
		p.PositionalHead = v.Bool
	}
	if v, ok := get("repeat"); ok {
		if v.Kind == tree.KindBool && v.Bool {
			p.Repeat = "repeat"
		} else {
			p.Repeat = v.String
		}
	}
	if v, ok := get("skip"); ok {
		p.Skip = v.Bool
	}
	if v, ok := get("skip_implicits"); ok {
		p.SkipImplicits = v.Bool
	}
	if v, ok := get("disable_substitutions"); ok {
		p.DisableSubstitutions = v.Bool
	}
	if v, ok := get("explicit_true"); ok {
		p.ExplicitTrue = v.String
	}
	if v, ok := get("explicit_false"); ok {
		p.ExplicitFalse = v.String
	}
	if v, ok := get("split"); ok {
		p.Split = v.String
	}
	if v, ok := get("replace"); ok && v.Kind == tree.KindMap {
		p.Replace = make(map[string]string, v.Map.Len())
		for _, k := range v.Map.Keys() {
			val, _ := v.Map.Get(k)
			p.Replace[k] = val.String
		}
	}
	if v, ok := get("format"); ok {
		p.Format = v.String
	}
	if v, ok := get("format_list"); ok {
		p.FormatList = stringListOf(v)
	}
	if v, ok := get("format_list_scalar"); ok {
		p.FormatListScalar = stringListOf(v)
	}
	if v, ok := get("pass_missing_as_none"); ok {
		p.PassMissingAsNone = v.Bool
	}
	return p
}
