package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
)

// schemaSource constrains the shape of a vcc.toml document. Unknown keys
// are rejected so that typos surface instead of being ignored.
const schemaSource = `
#Ident: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Manifest: {
	package?: {
		name?:    #Ident
		version?: string
		entry?:   =~"^[A-Za-z_][A-Za-z0-9_]*\\.[A-Za-z_][A-Za-z0-9_]*$"
	}
	source?: {
		dirs?: [...string]
	}
	dependencies?: [#Ident]: {
		path: string & !=""
	}
	build?: {
		output?:         string & !=""
		"search-paths"?: [...string]
		cache?:          string
		"no-cache"?:     bool
	}
}
`

// Validate checks raw manifest data against the schema.
func Validate(data []byte) error {
	var doc map[string]any
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))

	v := def.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError flattens a CUE error list into one error naming the first
// problem and how many followed.
func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	msg := cueerrors.Details(errs[0], nil)
	if len(errs) > 1 {
		return fmt.Errorf("%s (and %d more)", msg, len(errs)-1)
	}
	return fmt.Errorf("%s", msg)
}
