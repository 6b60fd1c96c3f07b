package snapshots

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/layout"
)

// CurrentSchemaVersion is the record format written by Save.
//
// Version history:
//
//	1: panes carried "cwd"; records had no checksum.
//	2: panes carry "working_dir"; records carry a sha256 layout checksum.
const CurrentSchemaVersion = 2

//go:embed schema/record.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("record.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("record.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// validateDocument checks a current-version record document against the schema.
func validateDocument(data []byte) error {
	sch, err := getSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}

// migration rewrites a decoded document from version From to From+1.
type migration struct {
	From        int
	Description string
	Apply       func(doc map[string]any) error
}

var migrations = []migration{
	{
		From:        1,
		Description: "rename pane cwd to working_dir",
		Apply:       migrateCwdToWorkingDir,
	},
}

// migrate upgrades doc in place to CurrentSchemaVersion, logging every step.
func migrate(doc map[string]any, from int, name string, logger *zap.Logger) error {
	version := from
	for _, m := range migrations {
		if m.From != version {
			continue
		}
		if err := m.Apply(doc); err != nil {
			return fmt.Errorf("migration %d->%d (%s): %w", m.From, m.From+1, m.Description, err)
		}
		version = m.From + 1
		logger.Info("migrated snapshot record",
			zap.String("snapshot", name),
			zap.Int("from", m.From),
			zap.Int("to", version),
			zap.String("step", m.Description),
		)
	}
	if version != CurrentSchemaVersion {
		return fmt.Errorf("no migration path from version %d", from)
	}
	doc["schema_version"] = CurrentSchemaVersion
	return nil
}

func migrateCwdToWorkingDir(doc map[string]any) error {
	lay, ok := doc["layout"].(map[string]any)
	if !ok {
		return fmt.Errorf("layout is not an object")
	}
	windows, _ := lay["windows"].([]any)
	for _, w := range windows {
		win, ok := w.(map[string]any)
		if !ok {
			return fmt.Errorf("window is not an object")
		}
		tabs, _ := win["tabs"].([]any)
		for _, t := range tabs {
			tab, ok := t.(map[string]any)
			if !ok {
				return fmt.Errorf("tab is not an object")
			}
			nodes, _ := tab["nodes"].([]any)
			for _, n := range nodes {
				node, ok := n.(map[string]any)
				if !ok {
					return fmt.Errorf("node is not an object")
				}
				pane, ok := node["pane"].(map[string]any)
				if !ok {
					continue
				}
				if cwd, ok := pane["cwd"]; ok {
					pane["working_dir"] = cwd
					delete(pane, "cwd")
				}
			}
		}
	}
	return nil
}

// checksum returns the integrity digest of a layout's canonical encoding.
func checksum(w layout.Workspace) (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
