package cab

import (
	"fmt"

	"github.com/caracal/kitchen/pkg/schema"
	"github.com/caracal/kitchen/pkg/tree"
)

// Parse builds a Cab from its document node under cabs.<name>.
func Parse(name string, n *tree.Node) (*Cab, error) {
	if n == nil || n.Kind != tree.KindMap {
		return nil, fmt.Errorf("cab %q: document must be a mapping", name)
	}

	c := &Cab{Name: name}
	if v, ok := n.Map.Get("info"); ok {
		c.Info = v.String
	}
	if v, ok := n.Map.Get("image"); ok {
		c.Image = v.String
	}
	if v, ok := n.Map.Get("backend"); ok {
		c.Backend = v.String
	}
	if v, ok := n.Map.Get("dynamic_schema"); ok {
		c.DynamicSchema = v.String
	}

	if err := parseFlavour(c, n); err != nil {
		return nil, err
	}

	c.Inputs = map[string]*schema.Entry{}
	if v, ok := n.Map.Get("inputs"); ok && v.Kind == tree.KindMap {
		for _, k := range v.Map.Keys() {
			ev, _ := v.Map.Get(k)
			e, err := schema.ParseEntry(k, ev)
			if err != nil {
				return nil, fmt.Errorf("cab %q: %w", name, err)
			}
			c.Inputs[k] = e
			c.InputOrderList = append(c.InputOrderList, k)
		}
	}
	c.Outputs = map[string]*schema.Entry{}
	if v, ok := n.Map.Get("outputs"); ok && v.Kind == tree.KindMap {
		for _, k := range v.Map.Keys() {
			ev, _ := v.Map.Get(k)
			e, err := schema.ParseEntry(k, ev)
			if err != nil {
				return nil, fmt.Errorf("cab %q: %w", name, err)
			}
			c.Outputs[k] = e
		}
	}

	if v, ok := n.Map.Get("management"); ok && v.Kind == tree.KindMap {
		c.Management = parseManagement(v)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseFlavour(c *Cab, n *tree.Node) error {
	if v, ok := n.Map.Get("command"); ok {
		c.Flavour = Flavour{Kind: FlavourBinary, Command: v.String}
		return nil
	}
	if v, ok := n.Map.Get("callable"); ok {
		c.Flavour = Flavour{Kind: FlavourCallableScripting, Callable: v.String}
		return nil
	}
	if v, ok := n.Map.Get("code"); ok {
		c.Flavour = Flavour{Kind: FlavourInlineScriptingCode, Code: v.String}
		return nil
	}
	if v, ok := n.Map.Get("runner"); ok {
		c.Flavour = Flavour{Kind: FlavourExternalTaskRunner, Runner: v.String}
		return nil
	}
	return fmt.Errorf("cab %q: must declare exactly one of command/callable/code/runner", c.Name)
}

func parseManagement(n *tree.Node) Management {
	var m Management
	if v, ok := n.Map.Get("wranglers"); ok && v.Kind == tree.KindMap {
		for _, pattern := range v.Map.Keys() {
			actionsNode, _ := v.Map.Get(pattern)
			var actions []string
			switch actionsNode.Kind {
			case tree.KindString:
				actions = []string{actionsNode.String}
			case tree.KindList:
				for _, a := range actionsNode.List {
					actions = append(actions, a.String)
				}
			}
			m.Wranglers = append(m.Wranglers, WranglerRule{Pattern: pattern, Actions: actions})
		}
	}
	if v, ok := n.Map.Get("environment"); ok && v.Kind == tree.KindMap {
		m.Environment = map[string]string{}
		for _, k := range v.Map.Keys() {
			ev, _ := v.Map.Get(k)
			m.Environment[k] = ev.String
		}
	}
	if v, ok := n.Map.Get("cleanup"); ok {
		switch v.Kind {
		case tree.KindString:
			m.Cleanup = []string{v.String}
		case tree.KindList:
			for _, item := range v.List {
				m.Cleanup = append(m.Cleanup, item.String)
			}
		}
	}
	return m
}
