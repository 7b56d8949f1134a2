package cstruct

import (
	"fmt"
	"io"

	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

// Profile is a YAML document bundling a registry configuration with
// constants and definition text:
//
//	endian: "<"
//	pointer: uint64
//	consts:
//	  PAGE_SIZE: 4096
//	defs:
//	  - |
//	    struct page_header {
//	      uint32 id;
//	      char   data[PAGE_SIZE];
//	    };
type Profile struct {
	Endian  *profileEndian `yaml:"endian"`
	Pointer string         `yaml:"pointer"`
	Consts  map[string]int64
	Defs    []string
}

type profileEndian struct {
	value string
}

func (e *profileEndian) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "<", "le", "little":
		e.value = "<"
	case ">", "be", "big":
		e.value = ">"
	default:
		return fmt.Errorf("line %d: unknown endian %q", node.Line, s)
	}
	return nil
}

// ParseProfile decodes a profile document.
func ParseProfile(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &p, nil
}

// NewFromProfile builds a registry from a profile document: options first,
// then constants, then every definition block in order. Loading is
// all-or-nothing.
func NewFromProfile(r io.Reader) (*Registry, error) {
	p, err := ParseProfile(r)
	if err != nil {
		return nil, err
	}

	opts := Options{Pointer: p.Pointer}
	if p.Endian != nil {
		opts.Endian = p.Endian.value
	}
	reg, err := NewWithOptions(opts)
	if err != nil {
		return nil, err
	}

	for name, v := range p.Consts {
		reg.consts[name] = v
	}
	for i, def := range p.Defs {
		if err := reg.Load(def); err != nil {
			return nil, fmt.Errorf("defs[%d]: %w", i, err)
		}
	}
	return reg, nil
}

// LoadProfile applies a profile's constants and definitions to an existing
// registry. The profile's endian and pointer settings must match the
// registry or be absent.
func (r *Registry) LoadProfile(src io.Reader) error {
	p, err := ParseProfile(src)
	if err != nil {
		return err
	}
	if p.Endian != nil && p.Endian.value != r.opts.Endian {
		return fmt.Errorf("profile endian %q conflicts with registry %q", p.Endian.value, r.opts.Endian)
	}
	if p.Pointer != "" && p.Pointer != r.opts.Pointer {
		return fmt.Errorf("profile pointer %q conflicts with registry %q", p.Pointer, r.opts.Pointer)
	}

	savedTypes := maps.Clone(r.typedefs)
	savedConsts := maps.Clone(r.consts)
	for name, v := range p.Consts {
		r.consts[name] = v
	}
	for i, def := range p.Defs {
		if err := r.Load(def); err != nil {
			r.typedefs = savedTypes
			r.consts = savedConsts
			return fmt.Errorf("defs[%d]: %w", i, err)
		}
	}
	return nil
}
