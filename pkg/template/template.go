// Package template implements the template importer/normalizer (spec
// section 4.8): detect a native template or one of two known foreign
// dialects (egg-panel JSON, egg-panel YAML) and normalize either into the
// canonical types.Template shape. YAML decode uses gopkg.in/yaml.v3, the
// teacher's own template/config decode library; JSON decode is stdlib,
// matching spec's other JSON wire formats.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/catalystlabs/catalyst/pkg/types"
	"gopkg.in/yaml.v3"
)

// Dialect identifies the shape a raw template document was detected as.
type Dialect string

const (
	DialectNative      Dialect = "native"
	DialectForeignJSON Dialect = "foreign_json"
	DialectForeignYAML Dialect = "foreign_yaml"
)

// foreignMeta is the version-prefix marker both foreign dialects carry.
type foreignMeta struct {
	Version string `json:"version" yaml:"version"`
}

// foreignVariable is one declared variable in the foreign shape.
type foreignVariable struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description" yaml:"description"`
	EnvVariable  string `json:"env_variable" yaml:"env_variable"`
	DefaultValue string `json:"default_value" yaml:"default_value"`
	Rules        string `json:"rules" yaml:"rules"`
}

// foreignDocument is the common shape of both foreign dialects: a
// meta-version prefix, a docker_images map of label->image, a startup
// command string, an install script block, and a stop configuration.
type foreignDocument struct {
	Meta         foreignMeta       `json:"meta" yaml:"meta"`
	DockerImages map[string]string `json:"docker_images" yaml:"docker_images"`
	Startup      string            `json:"startup" yaml:"startup"`
	Stop         string            `json:"stop" yaml:"stop"`
	Variables    []foreignVariable `json:"variables" yaml:"variables"`
	Scripts      struct {
		Installation struct {
			Script string `json:"script" yaml:"script"`
		} `json:"installation" yaml:"installation"`
	} `json:"scripts" yaml:"scripts"`
}

// looksForeign reports whether a decoded foreignDocument actually carries
// a foreign marker: a non-empty meta.version, or a docker_images object
// plus at least one variables[] entry carrying an env_variable field.
func (d *foreignDocument) looksForeign() bool {
	if d.Meta.Version != "" {
		return true
	}
	if len(d.DockerImages) == 0 {
		return false
	}
	for _, v := range d.Variables {
		if v.EnvVariable != "" {
			return true
		}
	}
	return false
}

// Detect classifies raw as native, foreign JSON, or foreign YAML.
func Detect(raw []byte) Dialect {
	var asJSON foreignDocument
	if err := json.Unmarshal(raw, &asJSON); err == nil && asJSON.looksForeign() {
		return DialectForeignJSON
	}
	var asYAML foreignDocument
	if err := yaml.Unmarshal(raw, &asYAML); err == nil && asYAML.looksForeign() {
		return DialectForeignYAML
	}
	return DialectNative
}

// Import decodes raw per its detected dialect and returns the canonical
// template, or the list of required fields that came back empty.
func Import(raw []byte) (*types.Template, []string, error) {
	switch Detect(raw) {
	case DialectForeignJSON:
		var doc foreignDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode foreign json template: %w", err)
		}
		return normalize(&doc)
	case DialectForeignYAML:
		var doc foreignDocument
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode foreign yaml template: %w", err)
		}
		return normalize(&doc)
	default:
		var tmpl types.Template
		if err := json.Unmarshal(raw, &tmpl); err != nil {
			return nil, nil, fmt.Errorf("decode native template: %w", err)
		}
		return &tmpl, missingRequiredFields(&tmpl), nil
	}
}

func normalize(doc *foreignDocument) (*types.Template, []string, error) {
	tmpl := &types.Template{
		Variables:      normalizeVariables(doc.Variables),
		StartupCommand: rewriteStartupTokens(doc.Startup),
		InstallScript:  normalizeInstallScript(doc.Scripts.Installation.Script),
		Stop:           normalizeStop(doc.Stop),
	}

	for label, image := range doc.DockerImages {
		if tmpl.Image == "" {
			tmpl.Image = image
		} else {
			tmpl.ImageVariants = append(tmpl.ImageVariants, types.ImageVariant{Label: label, Image: image})
		}
	}

	synthesizeBuiltinVariables(tmpl)

	return tmpl, missingRequiredFields(tmpl), nil
}

func missingRequiredFields(tmpl *types.Template) []string {
	var missing []string
	if tmpl.Image == "" {
		missing = append(missing, "image")
	}
	if tmpl.StartupCommand == "" {
		missing = append(missing, "startup_command")
	}
	for _, v := range tmpl.Variables {
		if v.Required && v.Default == "" {
			missing = append(missing, "variables."+v.Name)
		}
	}
	return missing
}

// variableTokenRe matches ${VAR} and bare $VAR where VAR is an
// uppercase-only identifier, per spec section 4.8's startup rewrite rule.
var variableTokenRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}|\$([A-Z_][A-Z0-9_]*)`)

func rewriteStartupTokens(startup string) string {
	return variableTokenRe.ReplaceAllStringFunc(startup, func(match string) string {
		name := strings.Trim(match, "${}$")
		return "{{" + name + "}}"
	})
}

func normalizeVariables(vars []foreignVariable) []types.TemplateVariable {
	out := make([]types.TemplateVariable, 0, len(vars))
	for _, v := range vars {
		name := v.EnvVariable
		if name == "" {
			name = v.Name
		}
		out = append(out, types.TemplateVariable{
			Name:        name,
			Description: v.Description,
			Default:     v.DefaultValue,
			Required:    strings.Contains(v.Rules, "required"),
			InputKind:   inferInputKind(v.Rules),
			Rules:       stripTypeAtoms(v.Rules),
		})
	}
	return out
}

func inferInputKind(rules string) types.InputKind {
	switch {
	case strings.Contains(rules, "boolean"):
		return types.InputKindCheckbox
	case strings.Contains(rules, "integer"), strings.Contains(rules, "numeric"):
		return types.InputKindNumber
	case strings.Contains(rules, "in:"):
		return types.InputKindSelect
	default:
		return types.InputKindText
	}
}

var typeAtoms = []string{"boolean", "integer", "numeric", "required", "nullable", "string"}

func stripTypeAtoms(rules string) string {
	parts := strings.Split(rules, "|")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		atom := strings.TrimSpace(p)
		isTypeAtom := false
		for _, t := range typeAtoms {
			if atom == t {
				isTypeAtom = true
				break
			}
		}
		if !isTypeAtom && atom != "" {
			kept = append(kept, atom)
		}
	}
	return strings.Join(kept, "|")
}

// preflightPackages lists the utilities whose presence in an install
// script exempts it from the preflight package-install prepend.
var preflightPackages = []string{"curl", "wget", "jq", "unzip", "tar", "ca-certificates"}

func normalizeInstallScript(script string) string {
	script = strings.ReplaceAll(script, "\r\n", "\n")

	lines := strings.Split(script, "\n")
	if len(lines) > 0 && (lines[0] == "#!/bin/sh" || lines[0] == "#!/bin/ash") {
		lines[0] = "#!/bin/bash"
	}
	script = strings.Join(lines, "\n")

	script = strings.ReplaceAll(script, "/mnt/server", "{{SERVER_DIR}}")
	script = lowerTestBrackets(script)

	if !mentionsAny(script, preflightPackages) {
		script = insertAfterShebang(script, preflightBlock)
	}
	if !strings.Contains(script, "set -e") {
		script = insertAfterShebang(script, "set -e")
	}

	return script
}

const preflightBlock = `apt-get update -qq || apk add --no-cache bash >/dev/null 2>&1 || true
which curl >/dev/null 2>&1 || apt-get install -y curl || apk add --no-cache curl
which unzip >/dev/null 2>&1 || apt-get install -y unzip || apk add --no-cache unzip
which jq >/dev/null 2>&1 || apt-get install -y jq || apk add --no-cache jq
which tar >/dev/null 2>&1 || apt-get install -y tar || apk add --no-cache tar`

func mentionsAny(script string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(script, n) {
			return true
		}
	}
	return false
}

func insertAfterShebang(script, insert string) string {
	lines := strings.SplitN(script, "\n", 2)
	if len(lines) > 0 && strings.HasPrefix(lines[0], "#!") {
		rest := ""
		if len(lines) > 1 {
			rest = lines[1]
		}
		return lines[0] + "\n" + insert + "\n" + rest
	}
	return insert + "\n" + script
}

var doubleBracketTestRe = regexp.MustCompile(`\[\[\s*(.*?)\s*\]\]`)

func lowerTestBrackets(script string) string {
	return doubleBracketTestRe.ReplaceAllStringFunc(script, func(match string) string {
		inner := doubleBracketTestRe.FindStringSubmatch(match)[1]
		inner = strings.ReplaceAll(inner, "==", "=")
		return "[ " + inner + " ]"
	})
}

// normalizeStop implements spec section 4.8's stop-token mapping.
func normalizeStop(stop string) types.StopBehavior {
	trimmed := strings.TrimSpace(stop)
	switch strings.ToUpper(trimmed) {
	case "^C", "SIGINT":
		return types.StopBehavior{Command: "", Signal: types.SignalSIGINT}
	case "^D", "SIGTERM":
		return types.StopBehavior{Command: "", Signal: types.SignalSIGTERM}
	case "SIGKILL":
		return types.StopBehavior{Command: "", Signal: types.SignalSIGKILL}
	default:
		return types.StopBehavior{Command: strings.TrimPrefix(trimmed, "/"), Signal: types.SignalSIGTERM}
	}
}

// builtinDefaults are synthesized when a built-in variable is referenced
// by the startup or install script but never declared explicitly.
var builtinDefaults = map[string]string{
	"SERVER_MEMORY": "1024",
	"SERVER_PORT":   "25565",
	"SERVER_IP":     "0.0.0.0",
	"TZ":            "UTC",
}

func synthesizeBuiltinVariables(tmpl *types.Template) {
	declared := make(map[string]bool, len(tmpl.Variables))
	for _, v := range tmpl.Variables {
		declared[v.Name] = true
	}

	referenced := tmpl.StartupCommand + " " + tmpl.InstallScript
	for name, def := range builtinDefaults {
		if declared[name] {
			continue
		}
		if strings.Contains(referenced, "{{"+name+"}}") || strings.Contains(referenced, "$"+name) {
			tmpl.Variables = append(tmpl.Variables, types.TemplateVariable{
				Name:    name,
				Default: def,
			})
		}
	}
}
