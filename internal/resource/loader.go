package resource

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Resource definitions are written in CUE, one file or directory per
// deployment, under a top-level "resource" struct:
//
//	resource: people: {
//		table:      "people"
//		softDelete: false
//		enforcePaths: true
//		paths: {
//			name: "string"
//			age:  "number"
//		}
//	}
//
// CUE gives us constraint checking and file merging for free; anything that
// survives loading is decoded into a Config and validated by New.

// Error code constants for definition loading.
const (
	ErrCodeNotFound    = "D001" // path does not exist or is not usable
	ErrCodeNoFiles     = "D002" // no CUE files found
	ErrCodeLoadFailed  = "D003" // CUE load failed
	ErrCodeBuildFailed = "D004" // CUE build failed
	ErrCodeBadResource = "D005" // definition rejected
	ErrCodeEmpty       = "D006" // no resources defined
)

// LoadError is an error that occurred while loading resource definitions.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// rawResource is the decode target for one CUE resource entry.
type rawResource struct {
	Table        string            `json:"table"`
	SoftDelete   bool              `json:"softDelete"`
	EnforcePaths bool              `json:"enforcePaths"`
	Paths        map[string]string `json:"paths"`
	Schema       map[string]any    `json:"schema"`
}

// Load reads CUE resource definitions from a file or directory and builds an
// immutable Registry.
func Load(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("accessing definitions: %v", err)}
	}

	dir := path
	args := []string{"."}
	if !info.IsDir() {
		dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	}

	ctx := cuecontext.New()
	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	resourcesVal := value.LookupPath(cue.ParsePath("resource"))
	if !resourcesVal.Exists() {
		return nil, &LoadError{Code: ErrCodeEmpty, Message: "no resource definitions found"}
	}

	iter, err := resourcesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating resources: %v", err)}
	}

	var resources []*Resource
	for iter.Next() {
		name := iter.Selector().Unquoted()
		entry := iter.Value()

		var raw rawResource
		if err := entry.Decode(&raw); err != nil {
			return nil, &LoadError{
				Code:    ErrCodeBadResource,
				Message: fmt.Sprintf("resource %s: %v", name, err),
				Pos:     entry.Pos(),
			}
		}

		res, err := New(Config{
			Name:         name,
			Table:        raw.Table,
			SoftDelete:   raw.SoftDelete,
			EnforcePaths: raw.EnforcePaths,
			Paths:        raw.Paths,
			Schema:       raw.Schema,
		})
		if err != nil {
			return nil, &LoadError{
				Code:    ErrCodeBadResource,
				Message: err.Error(),
				Pos:     entry.Pos(),
			}
		}
		resources = append(resources, res)
	}

	if len(resources) == 0 {
		return nil, &LoadError{Code: ErrCodeEmpty, Message: "no resource definitions found"}
	}

	reg, err := NewRegistry(resources)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadResource, Message: err.Error()}
	}
	return reg, nil
}
