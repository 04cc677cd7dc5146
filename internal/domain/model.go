package domain

import "strings"

// ModelFamily selects the provider payload dialect for a model. The set is
// closed: every supported model maps onto exactly one family.
type ModelFamily string

const (
	FamilyNanoBanana    ModelFamily = "nano-banana"
	FamilyNanoBananaPro ModelFamily = "nano-banana-pro"
	FamilyFlux          ModelFamily = "flux"
	FamilyIdeogram      ModelFamily = "ideogram"
)

// Model IDs as the provider knows them.
const (
	ModelNanoBanana     = "google/nano-banana"
	ModelNanoBananaEdit = "google/nano-banana-edit"
	ModelNanoBananaPro  = "nano-banana-pro"
	ModelFlux           = "flux-kontext-pro"
	ModelIdeogram       = "ideogram/v3"
)

// Model describes one selectable generation model.
type Model struct {
	ID        string
	Family    ModelFamily
	Label     string
	InputCap  int // max queued input references
	MinInputs int // hard minimum before a task may be created
}

var catalog = map[string]Model{
	ModelNanoBanana:     {ID: ModelNanoBanana, Family: FamilyNanoBanana, Label: "Nano Banana", InputCap: 10},
	ModelNanoBananaEdit: {ID: ModelNanoBananaEdit, Family: FamilyNanoBanana, Label: "Nano Banana", InputCap: 10, MinInputs: 1},
	ModelNanoBananaPro:  {ID: ModelNanoBananaPro, Family: FamilyNanoBananaPro, Label: "Nano Banana Pro", InputCap: 10},
	ModelFlux:           {ID: ModelFlux, Family: FamilyFlux, Label: "Flux Kontext", InputCap: 5},
	ModelIdeogram:       {ID: ModelIdeogram, Family: FamilyIdeogram, Label: "Ideogram V3", InputCap: 3},
}

// ModelByID resolves a model id, tolerating the short aliases stored by
// earlier versions of the schema.
func ModelByID(id string) (Model, bool) {
	normalized := NormalizeModelID(id)
	model, ok := catalog[normalized]
	return model, ok
}

// NormalizeModelID maps legacy short ids onto catalog ids.
func NormalizeModelID(id string) string {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "nano-banana":
		return ModelNanoBanana
	case "nano-banana-pro":
		return ModelNanoBananaPro
	default:
		return strings.TrimSpace(id)
	}
}

// InputCapFor returns the pending-input cap for a model id, falling back to
// the most permissive cap when the model is unknown.
func InputCapFor(modelID string) int {
	if model, ok := ModelByID(modelID); ok {
		return model.InputCap
	}
	return 10
}
