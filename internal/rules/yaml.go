package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a mapping of doc-type -> rule, keeping the mapping
// order so tie breaks stay deterministic across save/load cycles.
func (rs *RuleSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("ruleset must be a mapping of doc types to rules")
	}
	rs.order = nil
	rs.rules = make(map[string]Rule, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var docType string
		if err := value.Content[i].Decode(&docType); err != nil {
			return fmt.Errorf("decode doc type key: %w", err)
		}
		var rule Rule
		if err := value.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("decode rule %q: %w", docType, err)
		}
		rs.put(docType, rule)
	}
	return nil
}

// MarshalYAML encodes the ruleset as a mapping in declaration order.
func (rs *RuleSet) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, docType := range rs.order {
		var key yaml.Node
		if err := key.Encode(docType); err != nil {
			return nil, err
		}
		var val yaml.Node
		if err := val.Encode(rs.rules[docType]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &val)
	}
	return node, nil
}
