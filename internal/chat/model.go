package chat

import "os"

// Model IDs used by the verification pipeline.
//
// | Role                        | Default model             | Override env          |
// |-----------------------------|---------------------------|-----------------------|
// | Audio, images, fallback text| gemini-2.5-flash          | GEMINI_MODEL          |
// | Case embeddings             | text-embedding-004        | GEMINI_EMBED_MODEL    |
// | Translation, decision       | llama-3.3-70b-versatile   | GROQ_MODEL            |
const (
	// ModelGemini25Flash is stable, balanced multimodal performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"

	// ModelTextEmbedding004 produces 768-dimension text embeddings.
	ModelTextEmbedding004 = "text-embedding-004"

	// ModelGroqLlama33 is the fast text model served by Groq.
	ModelGroqLlama33 = "llama-3.3-70b-versatile"
)

// DefaultModelName is the default Gemini model.
const DefaultModelName = ModelGemini25Flash

// GetModelName returns GEMINI_MODEL if set, else DefaultModelName.
func GetModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
