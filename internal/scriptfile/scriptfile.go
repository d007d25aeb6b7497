// Package scriptfile loads a YAML document from disk, validates it
// against a JSON Schema, and converts it into a Script value with its
// structural invariants already checked. This is deliberately the least
// interesting code in the repository; the real script language lives
// outside this module.
package scriptfile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/kilnforge/care/internal/careerr"
	"github.com/kilnforge/care/internal/pathset"
)

// Script is the validated, immutable-during-a-run desired state. Paths
// and Effectors are slices, not maps, because the engine must iterate
// them in the order they were declared.
type Script struct {
	ShadowDir string
	Paths     []PathEntry
	Ignores   []string
	Effectors []EffectorDescriptor
}

// PathEntry is one script-declared artifact.
type PathEntry struct {
	Path     string
	Contents []byte
}

// EffectorDescriptor names the executable and arguments used to spawn
// the effector owning Prefix.
type EffectorDescriptor struct {
	Prefix     string
	Executable string
	Args       []string
}

const schemaJSON = `{
  "type": "object",
  "required": ["shadow_dir", "effectors", "paths"],
  "properties": {
    "shadow_dir": {"type": "string", "minLength": 1},
    "ignores": {"type": "array", "items": {"type": "string"}},
    "effectors": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["executable"],
        "properties": {
          "executable": {"type": "string", "minLength": 1},
          "args": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "paths": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["contents"],
        "properties": {
          "contents": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("care-script.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("scriptfile: invalid embedded schema: %v", err))
	}
	s, err := c.Compile("care-script.json")
	if err != nil {
		panic(fmt.Sprintf("scriptfile: invalid embedded schema: %v", err))
	}
	return s
}

// Load reads, schema-validates, and decodes the script document at path.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, careerr.Wrap(careerr.KindScript, fmt.Sprintf("reading script %q", path), err)
	}

	if err := validateAgainstSchema(path, raw); err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, careerr.Wrap(careerr.KindScript, fmt.Sprintf("parsing script %q", path), err)
	}
	script, err := decodeOrdered(path, &root)
	if err != nil {
		return nil, err
	}
	if err := validateInvariants(script); err != nil {
		return nil, err
	}
	return script, nil
}

// validateAgainstSchema decodes raw as plain YAML (order doesn't matter
// for schema checking), re-encodes it as JSON, and validates it against
// the compiled schema.
func validateAgainstSchema(path string, raw []byte) error {
	var untyped interface{}
	if err := yaml.Unmarshal(raw, &untyped); err != nil {
		return careerr.Wrap(careerr.KindScript, fmt.Sprintf("parsing script %q", path), err)
	}
	asJSON, err := json.Marshal(untyped)
	if err != nil {
		return careerr.Wrap(careerr.KindScript, "re-encoding script for validation", err)
	}
	var doc interface{}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return careerr.Wrap(careerr.KindScript, "re-decoding script for validation", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return careerr.Wrap(careerr.KindScript, fmt.Sprintf("script %q failed schema validation", path), err)
	}
	return nil
}

// decodeOrdered walks the raw yaml.Node tree (rather than decoding into a
// Go map) so that the declaration order of "paths" and "effectors"
// survives into Script.Paths/Script.Effectors; draft iterates paths in
// declaration order and effectors are spawned in declaration order.
func decodeOrdered(path string, root *yaml.Node) (*Script, error) {
	if len(root.Content) != 1 {
		return nil, careerr.New(careerr.KindScript, fmt.Sprintf("script %q is not a single YAML document", path))
	}
	doc := root.Content[0]

	script := &Script{}
	if n := mappingValue(doc, "shadow_dir"); n != nil {
		script.ShadowDir = n.Value
	}
	if n := mappingValue(doc, "ignores"); n != nil {
		if err := n.Decode(&script.Ignores); err != nil {
			return nil, careerr.Wrap(careerr.KindScript, fmt.Sprintf("decoding ignores in %q", path), err)
		}
	}

	if n := mappingValue(doc, "effectors"); n != nil {
		for i := 0; i+1 < len(n.Content); i += 2 {
			prefix := n.Content[i].Value
			var desc struct {
				Executable string   `yaml:"executable"`
				Args       []string `yaml:"args"`
			}
			if err := n.Content[i+1].Decode(&desc); err != nil {
				return nil, careerr.Wrap(careerr.KindScript, fmt.Sprintf("decoding effector %q in %q", prefix, path), err)
			}
			script.Effectors = append(script.Effectors, EffectorDescriptor{
				Prefix:     prefix,
				Executable: desc.Executable,
				Args:       desc.Args,
			})
		}
	}

	if n := mappingValue(doc, "paths"); n != nil {
		for i := 0; i+1 < len(n.Content); i += 2 {
			p := n.Content[i].Value
			var entry struct {
				Contents string `yaml:"contents"`
			}
			if err := n.Content[i+1].Decode(&entry); err != nil {
				return nil, careerr.Wrap(careerr.KindScript, fmt.Sprintf("decoding path %q in %q", p, path), err)
			}
			script.Paths = append(script.Paths, PathEntry{Path: p, Contents: []byte(entry.Contents)})
		}
	}

	return script, nil
}

func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// validateInvariants enforces the Script invariants: every path's prefix
// is a known effector, no path is ignored, and paths are unique under
// case folding.
func validateInvariants(s *Script) error {
	known := map[string]struct{}{}
	for _, e := range s.Effectors {
		known[e.Prefix] = struct{}{}
	}

	caseIdx := pathset.NewCaseFoldIndex()
	for _, entry := range s.Paths {
		if !strings.Contains(entry.Path, "/") {
			return careerr.New(careerr.KindScript, fmt.Sprintf("path %q has no effector prefix", entry.Path)).With("path", entry.Path)
		}
		prefix := entry.Path[:strings.IndexByte(entry.Path, '/')]
		if _, ok := known[prefix]; !ok {
			return careerr.New(careerr.KindScript, fmt.Sprintf("path %q has unknown effector prefix %q", entry.Path, prefix)).With("path", entry.Path)
		}
		if pathset.IsIgnored(entry.Path, s.Ignores) {
			return careerr.New(careerr.KindIgnoredPath, fmt.Sprintf("script path %q matches an ignore pattern", entry.Path)).With("path", entry.Path)
		}
		if err := caseIdx.CheckInsert(entry.Path); err != nil {
			return err
		}
	}
	return nil
}
