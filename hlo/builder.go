package hlo

import (
	"bytes"
	"io"
	"slices"

	"github.com/pkg/errors"
)

// Builder holds a StableHLO module under construction: its functions, and the module attributes.
type Builder struct {
	name string

	// functions in creation order, closures included. Closures are only written inline.
	functions []*Function

	numReplicas int
}

// New returns a Builder for a module with the given name.
//
// Create the entry point with Builder.Main, add operations to it, finish it with Function.Return, and
// then Builder.Build renders the program text that PJRT compiles.
func New(name string) *Builder {
	return &Builder{name: name}
}

// WithNumReplicas sets the module attribute `stablehlo.num_replicas`. The program must then be compiled
// for that many devices (SPMD), each running it on its own inputs.
func (b *Builder) WithNumReplicas(n int) *Builder {
	b.numReplicas = n
	return b
}

// NewFunction adds a function to the module. Its names must be unique among the top-level functions.
//
// The inputs, created with NamedValue, become its parameters. More can be added with Function.Input.
func (b *Builder) NewFunction(name string, inputs ...*Value) *Function {
	fn := &Function{Builder: b, Name: name, Inputs: slices.Clone(inputs)}
	for _, input := range fn.Inputs {
		input.fn = fn
	}
	b.functions = append(b.functions, fn)
	return fn
}

// Main is a shortcut to NewFunction(MainFunctionName, inputs...).
func (b *Builder) Main(inputs ...*Value) *Function {
	return b.NewFunction(MainFunctionName, inputs...)
}

func (b *Builder) topLevel() []*Function {
	var fns []*Function
	for _, fn := range b.functions {
		if fn.Parent == nil {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Write renders the module to writer. It doesn't validate it, so it can be used to debug partial programs.
func (b *Builder) Write(writer io.Writer) error {
	tw := &textWriter{out: writer}
	tw.printf("module @%s", NormalizeIdentifier(b.name))
	if b.numReplicas > 0 {
		tw.printf(" attributes {stablehlo.num_replicas = %d}", b.numReplicas)
	}
	tw.printf(" {\n")
	for i, fn := range b.topLevel() {
		if i > 0 {
			tw.printf("\n\n")
		}
		fn.write(tw, IndentationStep)
	}
	tw.printf("\n}\n")
	return tw.err
}

// Build validates the module and returns its text.
//
// Every top-level function must be returned, names must be unique, and there must be a main function.
func (b *Builder) Build() ([]byte, error) {
	seen := make(map[string]bool)
	for _, fn := range b.topLevel() {
		switch {
		case seen[fn.Name]:
			return nil, errors.Errorf("duplicate function name %q", fn.Name)
		case !fn.Returned:
			return nil, errors.Errorf("function %q has no return statement", fn.Name)
		}
		seen[fn.Name] = true
	}
	if !seen[MainFunctionName] {
		return nil, errors.Errorf("program must have a main function, named %q", MainFunctionName)
	}
	var buf bytes.Buffer
	if err := b.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
