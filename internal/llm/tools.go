package llm

// Tool names for card mutations requested by the narrator.
const (
	ToolAddPlotCard     = "add_plot_card"
	ToolUpdatePlotCard  = "update_plot_card"
	ToolDeletePlotCard  = "delete_plot_card"
	ToolAddWorldCard    = "add_world_card"
	ToolUpdateWorldCard = "update_world_card"
	ToolDeleteWorldCard = "delete_world_card"
)

func cardIDProperty(family string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": "ID of the " + family + " card, as shown in the context",
	}
}

// CardTools returns the tool definitions the narrator uses to keep cards current.
func CardTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolAddPlotCard,
				Description: "Record a lasting plot development as a new plot summary card. Use this when something happens that later turns must remember.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{
							"type":        "string",
							"description": "Short title of the development",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "Summary of what happened and why it matters",
						},
					},
					"required": []string{"title", "content"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolUpdatePlotCard,
				Description: "Revise an existing plot summary card when the story changes what it says.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": cardIDProperty("plot"),
						"title": map[string]any{
							"type":        "string",
							"description": "New title; omit to keep the current one",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "New summary; omit to keep the current one",
						},
					},
					"required": []string{"id"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolDeletePlotCard,
				Description: "Remove a plot summary card that no longer applies.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": cardIDProperty("plot"),
					},
					"required": []string{"id"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolAddWorldCard,
				Description: "Create a world card for a new character, place, item or fact that should come back when mentioned.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{
							"type":        "string",
							"description": "Name of the character or entry",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "Description to show the narrator when the card is in scene",
						},
						"triggers": map[string]any{
							"type":        "array",
							"description": "Words or short phrases that bring the card into scene",
							"items": map[string]any{
								"type": "string",
							},
						},
						"kind": map[string]any{
							"type":        "string",
							"description": "npc for characters, world for everything else",
							"enum":        []string{"npc", "world"},
						},
					},
					"required": []string{"title", "content"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolUpdateWorldCard,
				Description: "Update a world card when a character or entry changes. Locked cards and cards with AI editing disabled are rejected.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": cardIDProperty("world"),
						"title": map[string]any{
							"type":        "string",
							"description": "New name; omit to keep the current one",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "New description; omit to keep the current one",
						},
						"triggers": map[string]any{
							"type":        "array",
							"description": "Replacement trigger list; omit to keep the current one",
							"items": map[string]any{
								"type": "string",
							},
						},
					},
					"required": []string{"id"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDefinition{
				Name:        ToolDeleteWorldCard,
				Description: "Remove a world card that no longer exists in the story. The main hero can't be removed.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": cardIDProperty("world"),
					},
					"required": []string{"id"},
				},
			},
		},
	}
}
