package reifier

import (
	"strings"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/markup"
	"github.com/lorents/fuse-studio/protocol"
)

// Reasons an attribute change cannot be patched and needs a full reify.
const (
	RejectNoReify         = "no-reify"
	RejectBinding         = "binding"
	RejectUXAttribute     = "ux-attribute"
	RejectDottedProperty  = "dotted-property"
	RejectLayer           = "layer"
	RejectUnknownObject   = "unknown-object"
	RejectPreviousBinding = "previous-binding"
	RejectInvalidValue    = "invalid-value"
)

type updater interface {
	// generateUpdate returns the patch function and the reify generation it
	// applies to, or a rejection reason.
	generateUpdate(args protocol.UpdateAttribute) (fn bytecode.Lambda, generation int64, reason string)
}

type cantUpdate struct{}

func (cantUpdate) generateUpdate(protocol.UpdateAttribute) (bytecode.Lambda, int64, string) {
	return bytecode.Lambda{}, 0, RejectNoReify
}

// canUpdate patches against the markup of one successful reify. Later
// edits are judged against that markup, not against earlier patches.
type canUpdate struct {
	generation int64
	ids        *markup.Identifiers
	gen        *codegen
}

func (u *canUpdate) generateUpdate(p protocol.UpdateAttribute) (bytecode.Lambda, int64, string) {
	if p.Value != nil && markup.ContainsBindingExpression(*p.Value) {
		return bytecode.Lambda{}, 0, RejectBinding
	}
	if markup.IsUXAttribute(p.Property) {
		return bytecode.Lambda{}, 0, RejectUXAttribute
	}
	if strings.Contains(p.Property, ".") {
		return bytecode.Lambda{}, 0, RejectDottedProperty
	}
	if p.Property == "Layer" {
		return bytecode.Lambda{}, 0, RejectLayer
	}
	e, ok := u.ids.Lookup(p.Object)
	if !ok {
		return bytecode.Lambda{}, 0, RejectUnknownObject
	}
	// A binding from the last reify left objects behind that only a reify
	// removes.
	if current, ok := e.Attribute(p.Property); ok && markup.ContainsBindingExpression(current) {
		return bytecode.Lambda{}, 0, RejectPreviousBinding
	}
	typeName, ok := u.gen.propertyTypes[e]
	if !ok {
		return bytecode.Lambda{}, 0, RejectUnknownObject
	}
	value, err := u.gen.value(typeName, p.Property, p.Value)
	if err != nil {
		return bytecode.Lambda{}, 0, RejectInvalidValue
	}
	return patchFunction(p.Object, p.Property, value), u.generation, ""
}

// patchFunction writes value to property on every live object tagged id.
func patchFunction(id protocol.ObjectIdentifier, property string, value bytecode.Expression) bytecode.Lambda {
	this := bytecode.ReadVariable{Variable: bytecode.This}
	return bytecode.Lambda{
		Signature: bytecode.Action(),
		Body: []bytecode.Statement{
			bytecode.ExecuteOnObjectsWithTag(id.String(), bytecode.Lambda{
				Signature: bytecode.Action(bytecode.This),
				Body: []bytecode.Statement{
					bytecode.WriteProperty{Object: this, Property: property, Value: value},
				},
			}),
		},
	}
}
