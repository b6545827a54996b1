package schema

// Feature describes one leaf or group of the dataset's feature tree.
type Feature struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"` // image, tensor, scalar, text, dict, sequence
	Shape    []int     `json:"shape,omitempty"`
	DType    string    `json:"dtype,omitempty"`
	Encoding Encoding  `json:"encoding,omitempty"`
	Doc      string    `json:"doc,omitempty"`
	Children []Feature `json:"children,omitempty"`
}

// Feature tree keys shared by every variant.
const (
	StepsKey    = "steps"
	MetadataKey = "episode_metadata"
	FilePathKey = "file_path"
)

// Features returns the declarative feature tree of the variant.
func (v Variant) Features() Feature {
	image := func(name, doc string) Feature {
		return Feature{
			Name:     name,
			Kind:     "image",
			Shape:    []int{v.ImageHeight, v.ImageWidth, 3},
			DType:    "uint8",
			Encoding: v.ImageEncoding,
			Doc:      doc,
		}
	}
	scalar := func(name, dtype, doc string) Feature {
		return Feature{Name: name, Kind: "scalar", DType: dtype, Doc: doc}
	}

	steps := Feature{
		Name: StepsKey,
		Kind: "sequence",
		Children: []Feature{
			{
				Name: "observation",
				Kind: "dict",
				Children: []Feature{
					image(v.ImageKey, "Main camera RGB observation."),
					image("wrist_image", "Wrist camera RGB observation."),
					{Name: "state", Kind: "tensor", Shape: []int{v.StateDim}, DType: "float32", Doc: v.StateDoc},
				},
			},
			{Name: "action", Kind: "tensor", Shape: []int{v.ActionDim}, DType: "float32", Doc: v.ActionDoc},
			scalar("discount", "float32", "Discount if provided, default to 1."),
			scalar("reward", "float32", "Reward if provided, 1 on final step for demos."),
			scalar("is_first", "bool", "True on first step of the episode."),
			scalar("is_last", "bool", "True on last step of the episode."),
			scalar("is_terminal", "bool", "True on last step of the episode if it is a terminal step, True for demos."),
			{Name: "language_instruction", Kind: "text", Doc: "Language Instruction."},
			{Name: "language_embedding", Kind: "tensor", Shape: []int{v.EmbeddingDim}, DType: "float32", Doc: "Language embedding of the instruction."},
		},
	}
	meta := Feature{
		Name: MetadataKey,
		Kind: "dict",
		Children: []Feature{
			{Name: FilePathKey, Kind: "text", Doc: "Path to the original data file."},
		},
	}
	return Feature{Name: v.Name, Kind: "dict", Children: []Feature{steps, meta}}
}
