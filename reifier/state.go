package reifier

// State is where the reifier is in its reify/patch cycle.
type State int32

const (
	Idle State = iota
	Parsing
	ParseFailed
	Parsed
	CodeGenerating
	CodeGenFailed
	Published
	Patching
	PatchRejected
	PatchPublished
)

var stateNames = [...]string{
	Idle:           "idle",
	Parsing:        "parsing",
	ParseFailed:    "parse-failed",
	Parsed:         "parsed",
	CodeGenerating: "code-generating",
	CodeGenFailed:  "codegen-failed",
	Published:      "published",
	Patching:       "patching",
	PatchRejected:  "patch-rejected",
	PatchPublished: "patch-published",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
