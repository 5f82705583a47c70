package catalog

// StateQueryTool is the distinguished read-only tool whose evidence text is
// cached as a UI snapshot instead of being discarded.
const StateQueryTool = "get_ui_state"

const coordinateSchema = `{
	"type": "object",
	"properties": {
		"coordinate": {
			"type": "array",
			"items": {"type": ["number", "string"]},
			"minItems": 1,
			"maxItems": 2
		}
	},
	"required": ["coordinate"]
}`

const typeTextSchema = `{
	"type": "object",
	"properties": {
		"coordinate": {
			"type": "array",
			"items": {"type": ["number", "string"]},
			"minItems": 1,
			"maxItems": 2
		},
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

const pressKeySchema = `{
	"type": "object",
	"properties": {
		"key": {"type": "string"},
		"modifiers": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["key"]
}`

const waitSchema = `{
	"type": "object",
	"properties": {
		"seconds": {"type": "number", "minimum": 0}
	},
	"required": ["seconds"]
}`

// Default builds the standard desktop automation catalog.
func Default() *Catalog {
	c := New()
	must(c.Register("click", "Click a UI element at the given coordinate.", coordinateSchema, false))
	must(c.Register("double_click", "Double-click a UI element at the given coordinate.", coordinateSchema, false))
	must(c.Register("right_click", "Right-click a UI element at the given coordinate.", coordinateSchema, false))
	must(c.Register("type_text", "Type text, optionally clicking a coordinate first.", typeTextSchema, false))
	must(c.Register("press_key", "Press a key with optional modifiers.", pressKeySchema, false))
	must(c.Register("wait", "Pause for a number of seconds.", waitSchema, false))
	must(c.Register(StateQueryTool, "Read the current UI state as text.", "", true))
	return c
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
