package tools

import (
	"regexp"

	"github.com/teodor/alva/internal/llm"
)

// Group names a second-layer tool group. Second-layer tools are withheld
// from the default catalogue until a documentation fetch (or keyword
// prediction) unlocks them, which keeps the per-call tool catalogue small.
type Group string

const (
	GroupReminders      Group = "Reminders"
	GroupWeather        Group = "Weather"
	GroupShoppingList   Group = "ShoppingList"
	GroupHomeAutomation Group = "HomeAutomation"
)

// Groups lists every second-layer group.
var Groups = []Group{GroupReminders, GroupWeather, GroupShoppingList, GroupHomeAutomation}

// Definition declares one tool: its model-facing name, description, and
// parameter schema, plus the second-layer group it belongs to (empty means
// first layer, always in the catalogue).
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Group       Group
}

// Tool converts the definition to its model-facing form.
func (d Definition) Tool() llm.Tool {
	return llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

var recurrenceSchema = map[string]any{
	"type":        "object",
	"description": "Recurrence rule. Example: {\"frequency\": \"daily\", \"interval\": 3} means 'every three days'.",
	"properties": map[string]any{
		"frequency": prop("string", "How often it should repeat: daily, weekly, monthly, yearly"),
		"interval":  prop("integer", "The interval at which it should repeat (default 1)"),
	},
	"required": []string{"frequency", "interval"},
}

// Definitions is the complete, compile-time tool catalogue. Built once;
// read-only afterwards. Every schema declares at least one property because
// the function-calling format disallows empty parameter objects.
var Definitions = []Definition{
	// Reminders (second layer)
	{
		Name:        "create_reminder",
		Description: "Create a reminder that notifies the user at a given time. Reminders often should be triggered before events with some margin.",
		Group:       GroupReminders,
		Parameters: objReq(map[string]any{
			"trigger_at": prop("string", "When the reminder should (first) be triggered, local time: 'YYYY-MM-DD HH:MM'"),
			"message":    prop("string", "What the reminder should say"),
			"priority":   prop("string", "Urgency: 'ping' when the user must see it the same day, otherwise 'normal'"),
			"recurrence": recurrenceSchema,
		}, "trigger_at", "message"),
	},
	{
		Name:        "get_reminders",
		Description: "List the active reminders with their IDs. Use it to find the ID to pass to update_reminder or remove_reminder.",
		Group:       GroupReminders,
		Parameters: obj(map[string]any{
			// Schemas need at least one property.
			"confirm": prop("boolean", "Set to true"),
		}),
	},
	{
		Name:        "update_reminder",
		Description: "Update a reminder by ID. Omitted fields are unchanged.",
		Group:       GroupReminders,
		Parameters: objReq(map[string]any{
			"id":         prop("integer", "The ID of the reminder"),
			"trigger_at": prop("string", "New trigger time, local: 'YYYY-MM-DD HH:MM'"),
			"message":    prop("string", "What the reminder should say instead"),
			"priority":   prop("string", "New urgency: 'normal' or 'ping'"),
			"recurrence": recurrenceSchema,
		}, "id"),
	},
	{
		Name:        "remove_reminder",
		Description: "Remove a reminder by ID.",
		Group:       GroupReminders,
		Parameters: objReq(map[string]any{
			"id": prop("integer", "The ID of the reminder to remove"),
		}, "id"),
	},

	// Vector memory (first layer)
	{
		Name:        "add_user_memory",
		Description: "Add an entry to the vector memory with information the USER might want to keep for later. Written from the user's perspective, in English.",
		Parameters: objReq(map[string]any{
			"content": prop("string", "The information to save (in English)"),
		}, "content"),
	},
	{
		Name:        "add_assistant_memory",
		Description: "Add an entry to the vector memory with information the assistant itself wants to remember, e.g. facts about the user. In English.",
		Parameters: objReq(map[string]any{
			"content": prop("string", "The information to save (in English)"),
		}, "content"),
	},
	{
		Name:        "search_memory",
		Description: "Search the vector memory for previously saved information. The nearest neighbours are always returned, so check the content yourself to decide whether it's a match. The memory also contains records of previously executed tools.",
		Parameters: objReq(map[string]any{
			"query":         prop("string", "What to search for (in English). It's a vector search, so whole sentences with context work best"),
			"context":       prop("string", "Filter by context: 'user_memory', 'assistant_memory', or 'assistant_action' (records added automatically when the assistant invokes tools)"),
			"include_stale": prop("boolean", "Whether to include stale memories, e.g. reminders that already triggered"),
			"after":         prop("string", "Only include memories created after this local datetime: 'YYYY-MM-DD HH:MM'"),
			"before":        prop("string", "Only include memories created before this local datetime: 'YYYY-MM-DD HH:MM'"),
		}, "query"),
	},
	{
		Name:        "update_memory",
		Description: "Update a vector memory's content by ID. The entry is re-embedded.",
		Parameters: objReq(map[string]any{
			"id":      prop("integer", "The ID of the memory"),
			"content": prop("string", "The new content (in English)"),
		}, "id", "content"),
	},
	{
		Name:        "remove_memory",
		Description: "Remove a vector memory by ID.",
		Parameters: objReq(map[string]any{
			"id": prop("integer", "The ID of the memory"),
		}, "id"),
	},

	// Autonomy (first layer)
	{
		Name:        "schedule_self_prompt",
		Description: "Schedule a self-prompt: instructions (in English) sent back to the assistant at a later time. Use for checking status later, asking the user something later, or performing a future action. NOT for reminders.",
		Parameters: objReq(map[string]any{
			"trigger_at": prop("string", "When the self-prompt should (first) be sent, local time: 'YYYY-MM-DD HH:MM'"),
			"prompt":     prop("string", "Instructions the assistant writes to its future self (in English)"),
			"recurrence": recurrenceSchema,
		}, "trigger_at", "prompt"),
	},
	{
		Name:        "update_self_prompt",
		Description: "Update a scheduled self-prompt by ID. NOT for reminders.",
		Parameters: objReq(map[string]any{
			"id":         prop("integer", "The ID of the entry"),
			"trigger_at": prop("string", "New trigger time, local: 'YYYY-MM-DD HH:MM'"),
			"prompt":     prop("string", "New instructions (in English)"),
			"recurrence": recurrenceSchema,
		}, "id"),
	},
	{
		Name:        "delete_self_prompt",
		Description: "Delete a scheduled self-prompt by ID. NOT for reminders.",
		Parameters: objReq(map[string]any{
			"id": prop("integer", "The ID of the entry"),
		}, "id"),
	},
	{
		Name:        "message_user",
		Description: "Send a message to the user. Should ONLY be used from a scheduled self-prompt, when the assistant wants to say something at a later time.",
		Parameters: objReq(map[string]any{
			"message":  prop("string", "The message content to send to the user"),
			"priority": prop("string", "Urgency: 'normal' or 'ping'"),
		}, "message"),
	},
	{
		Name:        "get_tool_docs",
		Description: "Fetch the documentation for a second-layer tool group. Second-layer tools work like the others, but are used less frequently, so the assistant must explicitly request them before use. Groups: Reminders, Weather, ShoppingList, HomeAutomation.",
		Parameters: objReq(map[string]any{
			"group": prop("string", "The tool group to request documentation for"),
		}, "group"),
	},

	// Weather (second layer)
	{
		Name:        "get_weather",
		Description: "Retrieve weather information for a location and date range.",
		Group:       GroupWeather,
		Parameters: objReq(map[string]any{
			"location":   prop("string", "The name of the location"),
			"start_date": prop("string", "Start date: 'YYYY-MM-DD'"),
			"end_date":   prop("string", "End date: 'YYYY-MM-DD'"),
		}, "location", "start_date", "end_date"),
	},

	// Shopping list (second layer)
	{
		Name:        "add_to_shopping_list",
		Description: "Add an entry to the shopping list.",
		Group:       GroupShoppingList,
		Parameters: objReq(map[string]any{
			"content": prop("string", "What the shopping list item should say"),
		}, "content"),
	},
	{
		Name:        "get_shopping_list",
		Description: "List the open items on the shopping list.",
		Group:       GroupShoppingList,
		Parameters: obj(map[string]any{
			// Schemas need at least one property.
			"confirm": prop("boolean", "Set to true"),
		}),
	},

	// Home automation (second layer)
	{
		Name:        "list_smart_entities",
		Description: "Return all smart home light entities and their states. Use the entity IDs only for tool calls, not when talking to the user.",
		Group:       GroupHomeAutomation,
		Parameters: obj(map[string]any{
			// Schemas need at least one property.
			"confirm": prop("boolean", "Set to true"),
		}),
	},
	{
		Name:        "control_light",
		Description: "Turn a smart light (or group of lights) on or off and optionally adjust brightness or color temperature. Prefer group IDs when updating several lights.",
		Group:       GroupHomeAutomation,
		Parameters: objReq(map[string]any{
			"entity_id":       prop("string", "The entity_id of the light OR group of lights"),
			"on":              prop("boolean", "Whether the light should be on. To turn lights off explicitly, use this instead of reset_light"),
			"brightness_step": prop("integer", "A value between -100 and 100: how much the brightness should change, in points"),
			"coldness_step":   prop("integer", "A value between -100 and 100: how much the coldness should change, in points"),
		}, "entity_id", "on"),
	},
	{
		Name:        "reset_light",
		Description: "Reset a light to its default brightness and temperature. Always use this to go back to how it was before.",
		Group:       GroupHomeAutomation,
		Parameters: objReq(map[string]any{
			"entity_id": prop("string", "The entity_id of the light OR group of lights"),
		}, "entity_id"),
	},
}

// FirstLayer returns the default catalogue sent on every model invocation.
func FirstLayer() []llm.Tool {
	var out []llm.Tool
	for _, d := range Definitions {
		if d.Group == "" {
			out = append(out, d.Tool())
		}
	}
	return out
}

// ForGroup returns the schemas of a second-layer group.
func ForGroup(g Group) []llm.Tool {
	var out []llm.Tool
	for _, d := range Definitions {
		if d.Group == g {
			out = append(out, d.Tool())
		}
	}
	return out
}

// Keyword predictors for pre-registering second-layer groups, saving the
// model a documentation-fetch round trip.
var groupPredictors = map[Group]*regexp.Regexp{
	GroupReminders:      regexp.MustCompile(`(?i)\b(remind(er)?s?|ping)\b`),
	GroupWeather:        regexp.MustCompile(`(?i)\b(weather|rain(s|ing|y)?|snow(s|ing|y)?)\b`),
	GroupShoppingList:   regexp.MustCompile(`(?i)\b(shopping|buy|groceries)\b`),
	GroupHomeAutomation: regexp.MustCompile(`(?i)\b(lamps?|lights?|brightness)\b`),
}

// PredictGroups returns the second-layer groups whose keywords match the
// message, in the stable order of Groups.
func PredictGroups(message string) []Group {
	var out []Group
	for _, g := range Groups {
		if groupPredictors[g].MatchString(message) {
			out = append(out, g)
		}
	}
	return out
}

// Helper functions for building JSON Schema objects.

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func obj(properties map[string]any) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}

func objReq(properties map[string]any, required ...string) map[string]any {
	s := obj(properties)
	s["required"] = required
	return s
}
