package gemini

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema         `json:"responseSchema,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
	ImageConfig      *imageConfig    `json:"imageConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

var (
	numberField = &schema{Type: "NUMBER"}
	stringField = &schema{Type: "STRING"}

	nutritionSchema = &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"kcal":    numberField,
			"protein": numberField,
			"carbs":   numberField,
			"fat":     numberField,
		},
		Required: []string{"kcal", "protein", "carbs", "fat"},
	}

	analysisSchema = &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"dish_name":         stringField,
			"portion_guess":     stringField,
			"calories_kcal":     numberField,
			"protein_g":         numberField,
			"carbs_g":           numberField,
			"fat_g":             numberField,
			"health_score_0_10": numberField,
			"health_label":      stringField,
			"why_short":         stringField,
			"tips":              stringField,
		},
		Required: []string{"dish_name", "calories_kcal", "health_score_0_10"},
	}
)

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *errorBody `json:"error"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// text joins the text parts of the first candidate.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b []byte
	for _, p := range r.Candidates[0].Content.Parts {
		b = append(b, p.Text...)
	}
	return string(b)
}

// inlineData returns the first inline payload of the first candidate.
func (r *generateResponse) inlineData() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData.Data
		}
	}
	return ""
}
