package analysis

import (
	"maps"
	"path/filepath"
)

// Descriptor describes which analysis product to run and with what arguments.
// It is plain data and travels across the dispatch boundary as JSON.
type Descriptor struct {
	Product string            `json:"product"`        // executable name or absolute path
	Args    []string          `json:"args,omitempty"` // passed verbatim to the product
	Env     map[string]string `json:"env,omitempty"`  // extra KEY=VALUE pairs for the child
}

// NewDescriptor creates a Descriptor. The argument slice is copied.
func NewDescriptor(product string, args ...string) Descriptor {
	return Descriptor{Product: product, Args: append([]string(nil), args...)}
}

// WithEnv returns a copy of d with key=value added to its environment.
func (d Descriptor) WithEnv(key, value string) Descriptor {
	env := make(map[string]string, len(d.Env)+1)
	maps.Copy(env, d.Env)
	env[key] = value
	d.Env = env
	d.Args = append([]string(nil), d.Args...)
	return d
}

// Command returns a copy of the configured arguments.
func (d Descriptor) Command() []string {
	return append([]string(nil), d.Args...)
}

// Request binds a Descriptor to the directory it executes in.
// A Request is consumed by exactly one Invoke call.
type Request struct {
	Descriptor Descriptor
	Dir        string
}

// Bind returns a Request that runs d inside dir.
// Binding the same directory twice yields equal requests. The request shares
// no slices or maps with d.
func Bind(d Descriptor, dir string) Request {
	return Request{
		Descriptor: Descriptor{
			Product: d.Product,
			Args:    d.Command(),
			Env:     maps.Clone(d.Env),
		},
		Dir: filepath.Clean(dir),
	}
}
