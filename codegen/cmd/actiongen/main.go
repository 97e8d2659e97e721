// actiongen parses Go source files looking for action input structs
// and generates the action metadata registry.
//
// Usage: go run ./codegen/cmd/actiongen ./steps
package main

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ActionMetadata represents the complete metadata for an action
type ActionMetadata struct {
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Inputs      []InputMeta `json:"inputs"`
}

// InputMeta represents an input parameter metadata
type InputMeta struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// actionCommentRegex matches @action comments
// Format: @action name=xxx category=xxx description=xxx
var actionCommentRegex = regexp.MustCompile(`@action\s+(.+)`)

const outputFile = "actions_registry_gen.go"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <directory>\n", os.Args[0])
		os.Exit(1)
	}

	dir := os.Args[1]
	actions, err := parseDirectory(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing directory: %v\n", err)
		os.Exit(1)
	}

	if len(actions) == 0 {
		fmt.Println("No action inputs found")
		return
	}

	goPath := filepath.Join(dir, outputFile)
	if err := writeGoRegistry(goPath, actions); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing Go file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", goPath)
}

func parseDirectory(dir string) ([]ActionMetadata, error) {
	fset := token.NewFileSet()
	var actions []ActionMetadata

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") ||
			strings.HasSuffix(name, "_gen.go") || strings.HasSuffix(name, "_test.go") {
			continue
		}

		fileActions, err := parseFile(fset, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", name, err)
		}
		actions = append(actions, fileActions...)
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions, nil
}

func parseFile(fset *token.FileSet, filePath string) ([]ActionMetadata, error) {
	file, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var actions []ActionMetadata
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok || !strings.HasSuffix(typeSpec.Name.Name, "Inputs") {
				continue
			}
			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok {
				continue
			}

			meta := parseActionComment(genDecl.Doc)
			if meta == nil {
				continue
			}
			meta.Inputs = parseStructFields(structType)
			actions = append(actions, *meta)
		}
	}

	return actions, nil
}

func parseActionComment(doc *ast.CommentGroup) *ActionMetadata {
	if doc == nil {
		return nil
	}

	for _, comment := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(comment.Text, "//"))
		match := actionCommentRegex.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		meta := &ActionMetadata{
			Name:        extractValue(match[1], "name"),
			Category:    extractValue(match[1], "category"),
			Description: extractValue(match[1], "description"),
		}
		if meta.Name != "" {
			return meta
		}
	}

	return nil
}

// extractValue returns the value of key, which runs until the next known key
func extractValue(params, key string) string {
	prefix := key + "="
	idx := strings.Index(" "+params, " "+prefix)
	if idx == -1 {
		return ""
	}

	rest := params[idx+len(prefix):]
	end := len(rest)
	for _, next := range []string{" name=", " category=", " description="} {
		if i := strings.Index(rest, next); i != -1 && i < end {
			end = i
		}
	}

	return strings.TrimSpace(rest[:end])
}

func parseStructFields(structType *ast.StructType) []InputMeta {
	var inputs []InputMeta

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			continue
		}

		input := InputMeta{
			Name: toKebabCase(field.Names[0].Name),
			Type: typeToString(field.Type),
		}

		if field.Tag != nil {
			tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
			if actionTag := tag.Get("action"); actionTag != "" {
				parseActionTag(actionTag, &input)
			}
		}

		inputs = append(inputs, input)
	}

	return inputs
}

// parseActionTag parses `required,name=x,default=y,desc=...`; desc takes the rest of the tag
func parseActionTag(tag string, input *InputMeta) {
	if i := strings.Index(tag, "desc="); i != -1 {
		input.Description = tag[i+len("desc="):]
		tag = strings.TrimSuffix(tag[:i], ",")
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "required":
			input.Required = true
		case strings.HasPrefix(part, "name="):
			input.Name = strings.TrimPrefix(part, "name=")
		case strings.HasPrefix(part, "default="):
			input.Default = strings.TrimPrefix(part, "default=")
		}
	}
}

func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.ArrayType:
		return "[]" + typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + typeToString(t.Key) + "]" + typeToString(t.Value)
	case *ast.StarExpr:
		return "*" + typeToString(t.X)
	case *ast.SelectorExpr:
		return typeToString(t.X) + "." + t.Sel.Name
	default:
		return "any"
	}
}

func toKebabCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// keep acronyms together: APIURL -> api-url
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || i+1 < len(runes) && unicode.IsLower(runes[i+1])) {
				sb.WriteRune('-')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func writeGoRegistry(path string, actions []ActionMetadata) error {
	jsonData, err := json.MarshalIndent(struct {
		Actions []ActionMetadata `json:"actions"`
	}{actions}, "", "  ")
	if err != nil {
		return err
	}

	code := fmt.Sprintf(`// Code generated by actiongen. DO NOT EDIT.

package steps

import (
	"encoding/json"
)

// ActionMetadata represents the complete metadata for an action
type ActionMetadata struct {
	Name        string      %[1]sjson:"name"%[1]s
	Category    string      %[1]sjson:"category"%[1]s
	Description string      %[1]sjson:"description"%[1]s
	Inputs      []InputMeta %[1]sjson:"inputs"%[1]s
}

// InputMeta represents an input parameter metadata
type InputMeta struct {
	Name        string %[1]sjson:"name"%[1]s
	Type        string %[1]sjson:"type"%[1]s
	Required    bool   %[1]sjson:"required"%[1]s
	Default     string %[1]sjson:"default,omitempty"%[1]s
	Description string %[1]sjson:"description,omitempty"%[1]s
}

// actionsMetadataJSON contains the embedded JSON metadata
var actionsMetadataJSON = %[1]s%[2]s%[1]s

var actionsMetadata []ActionMetadata

func init() {
	var registry struct {
		Actions []ActionMetadata %[1]sjson:"actions"%[1]s
	}
	if err := json.Unmarshal([]byte(actionsMetadataJSON), &registry); err == nil {
		actionsMetadata = registry.Actions
	}
}

// GetActionsMetadata returns the metadata for all built-in actions
func GetActionsMetadata() []ActionMetadata {
	return actionsMetadata
}

// GetActionMetadata returns the metadata for a specific action by name
func GetActionMetadata(name string) (ActionMetadata, bool) {
	for _, action := range actionsMetadata {
		if action.Name == name {
			return action, true
		}
	}
	return ActionMetadata{}, false
}
`, "`", string(jsonData))

	return os.WriteFile(path, []byte(code), 0o644)
}
