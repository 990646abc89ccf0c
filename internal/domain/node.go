package domain

import "github.com/google/uuid"

// Position is the visual placement of a node on the workflow canvas. It has
// no bearing on execution order and is carried solely so a workflow can be
// round-tripped through an editor without losing layout.
type Position struct {
	X float64
	Y float64
}

// Node is a single unit of work inside a workflow. The concrete executor
// invoked for a node is resolved at runtime from its Type() via the node
// executor registry.
type Node interface {
	ID() uuid.UUID
	Type() NodeType
	Name() string
	Config() map[string]any
	Position() Position
	OnError() NodeOnError
	MaxRetries() int

	// IOSchema returns the node's declared input/output schema, read from
	// the "io_schema" config key. Returns nil when the node declares none;
	// callers must treat a nil schema as "no validation to perform".
	IOSchema() *NodeIOSchema

	// InputBindingConfig returns how parent outputs should be bound to this
	// node's inputs, read from the "input_binding" config key. Nodes that
	// don't set one get auto-bind-by-namespace, the safe default for a
	// node with more than one parent.
	InputBindingConfig() InputBindingConfig
}

type node struct {
	id         uuid.UUID
	nodeType   NodeType
	name       string
	config     map[string]any
	position   Position
	onError    NodeOnError
	maxRetries int
}

// NewNode creates a node detached from any workflow aggregate.
func NewNode(nodeType NodeType, name string, config map[string]any) Node {
	return &node{
		id:       uuid.New(),
		nodeType: nodeType,
		name:     name,
		config:   config,
		onError:  NodeOnErrorStop,
	}
}

// ReconstructNode rebuilds a node from persisted fields.
func ReconstructNode(id uuid.UUID, nodeType NodeType, name string, config map[string]any, position Position, onError NodeOnError, maxRetries int) Node {
	return &node{
		id:         id,
		nodeType:   nodeType,
		name:       name,
		config:     config,
		position:   position,
		onError:    onError,
		maxRetries: maxRetries,
	}
}

func (n *node) ID() uuid.UUID          { return n.id }
func (n *node) Type() NodeType         { return n.nodeType }
func (n *node) Name() string           { return n.name }
func (n *node) Config() map[string]any { return n.config }
func (n *node) Position() Position     { return n.position }
func (n *node) OnError() NodeOnError   { return n.onError }
func (n *node) MaxRetries() int        { return n.maxRetries }

func (n *node) IOSchema() *NodeIOSchema {
	raw, ok := n.config["io_schema"].(map[string]any)
	if !ok {
		return nil
	}
	schema := &NodeIOSchema{}
	if inputs, ok := raw["inputs"].(map[string]any); ok {
		schema.Inputs = schemaFromConfigMap(inputs)
	}
	if outputs, ok := raw["outputs"].(map[string]any); ok {
		schema.Outputs = schemaFromConfigMap(outputs)
	}
	return schema
}

func (n *node) InputBindingConfig() InputBindingConfig {
	return bindingConfigFromMap(n.config["input_binding"])
}

// schemaFromConfigMap builds a VariableSchema from a decoded JSON config
// fragment shaped like {"field": {"type": "string", "required": true}}.
func schemaFromConfigMap(raw map[string]any) *VariableSchema {
	schema := NewVariableSchema()
	for name, v := range raw {
		fieldCfg, ok := v.(map[string]any)
		if !ok {
			continue
		}
		def := &VariableDefinition{Name: name, Type: VariableTypeAny}
		if t, ok := fieldCfg["type"].(string); ok {
			def.Type = VariableType(t)
		}
		if req, ok := fieldCfg["required"].(bool); ok {
			def.Required = req
		}
		if desc, ok := fieldCfg["description"].(string); ok {
			def.Description = desc
		}
		def.DefaultValue = fieldCfg["default"]
		schema.AddDefinition(def)
	}
	return schema
}

// bindingConfigFromMap decodes a node's "input_binding" config fragment,
// defaulting to auto-bind-by-namespace when absent or malformed.
func bindingConfigFromMap(raw any) InputBindingConfig {
	cfg := InputBindingConfig{
		AutoBind:          true,
		CollisionStrategy: CollisionStrategyNamespaceByParent,
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return cfg
	}

	if autoBind, ok := m["auto_bind"].(bool); ok {
		cfg.AutoBind = autoBind
	}
	if strategy, ok := m["collision_strategy"].(string); ok {
		cfg.CollisionStrategy = CollisionStrategy(strategy)
	}
	if rawMappings, ok := m["mappings"].(map[string]any); ok {
		mappings := make(map[string]string, len(rawMappings))
		for k, v := range rawMappings {
			if s, ok := v.(string); ok {
				mappings[k] = s
			}
		}
		cfg.Mappings = mappings
	}

	return cfg
}
