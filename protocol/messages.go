package protocol

import (
	"github.com/google/uuid"
)

const (
	RegisterNameType    = "RegisterName"
	EndedType           = "Ended"
	LogMessageType      = "LogMessage"
	AssemblyBuiltType   = "AssemblyBuilt"
	MarkupErrorType     = "MarkupError"
	FileDataType        = "FileData"
	UpdateAttributeType = "UpdateAttribute"
)

// RegisterName is the first message a runtime client sends after it
// connects.
type RegisterName struct {
	DeviceID   string
	DeviceName string
}

func (RegisterName) MessageType() string { return RegisterNameType }

func (m RegisterName) WriteDataTo(w *Writer) {
	w.WriteString(m.DeviceID)
	w.WriteString(m.DeviceName)
}

func ReadRegisterName(r *Reader) RegisterName {
	return RegisterName{
		DeviceID:   r.ReadString(),
		DeviceName: r.ReadString(),
	}
}

// Ended reports completion of the command it carries.
type Ended struct {
	Command Envelope
	Success bool
}

func (Ended) MessageType() string { return EndedType }

func (m Ended) WriteDataTo(w *Writer) {
	w.WriteMessage(m.Command)
	w.WriteBool(m.Success)
}

func ReadEnded(r *Reader) Ended {
	return Ended{
		Command: r.ReadMessage(),
		Success: r.ReadBool(),
	}
}

// LogMessage is a line of build or reify output, correlated to the build
// that produced it.
type LogMessage struct {
	BuildID uuid.UUID
	Message string
}

func (LogMessage) MessageType() string { return LogMessageType }

func (m LogMessage) WriteDataTo(w *Writer) {
	w.WriteGUID(m.BuildID)
	w.WriteString(m.Message)
}

func ReadLogMessage(r *Reader) LogMessage {
	return LogMessage{
		BuildID: r.ReadGUID(),
		Message: r.ReadString(),
	}
}

type AssemblyBuilt struct {
	BuildID  uuid.UUID
	Assembly string
}

func (AssemblyBuilt) MessageType() string { return AssemblyBuiltType }

func (m AssemblyBuilt) WriteDataTo(w *Writer) {
	w.WriteGUID(m.BuildID)
	w.WriteString(m.Assembly)
}

func ReadAssemblyBuilt(r *Reader) AssemblyBuilt {
	return AssemblyBuilt{
		BuildID:  r.ReadGUID(),
		Assembly: r.ReadString(),
	}
}

// MarkupError is a parse or codegen failure located in markup text.
type MarkupError struct {
	BuildID uuid.UUID
	Source  SourceReference
	Message string
}

func (MarkupError) MessageType() string { return MarkupErrorType }

func (m MarkupError) WriteDataTo(w *Writer) {
	w.WriteGUID(m.BuildID)
	WriteSourceReference(w, m.Source)
	w.WriteString(m.Message)
}

func ReadMarkupError(r *Reader) MarkupError {
	return MarkupError{
		BuildID: r.ReadGUID(),
		Source:  ReadSourceReference(r),
		Message: r.ReadString(),
	}
}

type FileKind byte

const (
	DependencyFile FileKind = iota + 1
	BundleFile
	ScriptFile
)

func (k FileKind) String() string {
	switch k {
	case DependencyFile:
		return "dependency"
	case BundleFile:
		return "bundle"
	case ScriptFile:
		return "script"
	default:
		return "unknown"
	}
}

// FileData carries the current contents of an asset the program depends on.
type FileData struct {
	Kind FileKind
	Path string
	Data []byte
}

func (FileData) MessageType() string { return FileDataType }

func (m FileData) WriteDataTo(w *Writer) {
	w.buf = append(w.buf, byte(m.Kind))
	w.WriteString(m.Path)
	w.WriteBlob(m.Data)
}

func ReadFileData(r *Reader) FileData {
	var m FileData
	if b := r.read(1); b != nil {
		m.Kind = FileKind(b[0])
	}
	m.Path = r.ReadString()
	m.Data = r.ReadBlob()
	return m
}

// UpdateAttribute is one attribute edit coming from the editor. A nil
// Value means the attribute was removed.
type UpdateAttribute struct {
	ID       uuid.UUID
	Object   ObjectIdentifier
	Property string
	Value    *string
	Source   SourceReference
	IsSync   bool
}

func (UpdateAttribute) MessageType() string { return UpdateAttributeType }

func (m UpdateAttribute) WriteDataTo(w *Writer) {
	w.WriteGUID(m.ID)
	WriteObjectIdentifier(w, m.Object)
	w.WriteString(m.Property)
	w.WriteOptionalString(m.Value)
	WriteSourceReference(w, m.Source)
	w.WriteBool(m.IsSync)
}

func ReadUpdateAttribute(r *Reader) UpdateAttribute {
	return UpdateAttribute{
		ID:       r.ReadGUID(),
		Object:   ReadObjectIdentifier(r),
		Property: r.ReadString(),
		Value:    r.ReadOptionalString(),
		Source:   ReadSourceReference(r),
		IsSync:   r.ReadBool(),
	}
}
