package bytecode

import (
	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/protocol"
)

const (
	BytecodeGeneratedType = "BytecodeGenerated"
	BytecodeUpdatedType   = "BytecodeUpdated"
	GenerateBytecodeType  = "GenerateBytecode"
)

// BytecodeGenerated carries a complete reify program. Generation orders
// reifies of one process; a consumer must ignore one older than the newest
// it has applied.
type BytecodeGenerated struct {
	ID         uuid.UUID
	Generation int64
	Bytecode   ProjectBytecode
}

func (BytecodeGenerated) MessageType() string { return BytecodeGeneratedType }

func (m BytecodeGenerated) WriteDataTo(w *protocol.Writer) {
	w.WriteGUID(m.ID)
	w.WriteInt64(m.Generation)
	WriteProjectBytecode(w, m.Bytecode)
}

func ReadBytecodeGenerated(r *protocol.Reader) BytecodeGenerated {
	return BytecodeGenerated{
		ID:         r.ReadGUID(),
		Generation: r.ReadInt64(),
		Bytecode:   ReadProjectBytecode(r),
	}
}

// BytecodeUpdated carries a patch program valid against the reify of
// Generation.
type BytecodeUpdated struct {
	Sequence   int
	Generation int64
	Function   Lambda
}

func (BytecodeUpdated) MessageType() string { return BytecodeUpdatedType }

func (m BytecodeUpdated) WriteDataTo(w *protocol.Writer) {
	w.WriteInt(m.Sequence)
	w.WriteInt64(m.Generation)
	WriteLambda(w, m.Function)
}

func ReadBytecodeUpdated(r *protocol.Reader) BytecodeUpdated {
	return BytecodeUpdated{
		Sequence:   r.ReadInt(),
		Generation: r.ReadInt64(),
		Function:   ReadLambda(r),
	}
}

// GenerateBytecode asks for a reify of the given markup files.
type GenerateBytecode struct {
	ID          uuid.UUID
	UxFilePaths []string
}

func (GenerateBytecode) MessageType() string { return GenerateBytecodeType }

func (m GenerateBytecode) WriteDataTo(w *protocol.Writer) {
	w.WriteGUID(m.ID)
	w.WriteStrings(m.UxFilePaths)
}

func ReadGenerateBytecode(r *protocol.Reader) GenerateBytecode {
	return GenerateBytecode{
		ID:          r.ReadGUID(),
		UxFilePaths: r.ReadStrings(),
	}
}
