package template

import (
	"testing"

	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestDetect_NativeJSONWithoutDockerImagesMap(t *testing.T) {
	raw := []byte(`{"id":"tmpl-1","image":"game/server:latest","startup_command":"./start.sh"}`)
	require.Equal(t, DialectNative, Detect(raw))
}

func TestDetect_ForeignJSONByMetaVersion(t *testing.T) {
	raw := []byte(`{"meta":{"version":"egg-v1"},"docker_images":{"default":"game/server:1"}}`)
	require.Equal(t, DialectForeignJSON, Detect(raw))
}

func TestDetect_ForeignJSONByDockerImagesAndEnvVariable(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"variables": [{"name": "Max Players", "env_variable": "MAX_PLAYERS", "default_value": "20"}]
	}`)
	require.Equal(t, DialectForeignJSON, Detect(raw))
}

func TestDetect_ForeignYAML(t *testing.T) {
	raw := []byte("meta:\n  version: egg-v1\ndocker_images:\n  default: game/server:1\n")
	require.Equal(t, DialectForeignYAML, Detect(raw))
}

func TestImport_ForeignJSON_NormalizesImageAndVariants(t *testing.T) {
	raw := []byte(`{
		"meta": {"version": "egg-v1"},
		"docker_images": {"default": "game/server:1", "alt": "game/server:2"},
		"startup": "java -Xmx${MAX_RAM}M -jar server.jar",
		"stop": "^C",
		"variables": [
			{"name": "Max RAM", "env_variable": "MAX_RAM", "default_value": "1024", "rules": "required|integer"}
		],
		"scripts": {"installation": {"script": "#!/bin/bash\ncurl -o server.jar $DOWNLOAD_URL"}}
	}`)

	tmpl, missing, err := Import(raw)
	require.NoError(t, err)
	require.Empty(t, missing)

	require.Equal(t, "game/server:1", tmpl.Image)
	require.Len(t, tmpl.ImageVariants, 1)
	require.Equal(t, "alt", tmpl.ImageVariants[0].Label)
	require.Equal(t, "game/server:2", tmpl.ImageVariants[0].Image)

	require.Equal(t, "java -Xmx{{MAX_RAM}}M -jar server.jar", tmpl.StartupCommand)
	require.Equal(t, types.SignalSIGINT, tmpl.Stop.Signal)

	require.Len(t, tmpl.Variables, 1)
	v := tmpl.Variables[0]
	require.Equal(t, "MAX_RAM", v.Name)
	require.Equal(t, "1024", v.Default)
	require.True(t, v.Required)
	require.Equal(t, types.InputKindNumber, v.InputKind)
	require.NotContains(t, v.Rules, "required")
	require.NotContains(t, v.Rules, "integer")
}

func TestImport_StartupTokenRewrite_HandlesBracedAndBareForms(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./run.sh --port=${SERVER_PORT} --name $WORLD_NAME",
		"variables": [{"name": "World Name", "env_variable": "WORLD_NAME", "default_value": "world"}]
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.Equal(t, "./run.sh --port={{SERVER_PORT}} --name {{WORLD_NAME}}", tmpl.StartupCommand)
}

func TestImport_InstallScript_RewritesServerDirAndTestBrackets(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh",
		"scripts": {"installation": {"script": "#!/bin/bash\ncurl -o x y\nif [[ $A == $B ]]; then\n  cd /mnt/server\nfi"}}
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.Contains(t, tmpl.InstallScript, "{{SERVER_DIR}}")
	require.NotContains(t, tmpl.InstallScript, "/mnt/server")
	require.Contains(t, tmpl.InstallScript, "[ $A = $B ]")
	require.NotContains(t, tmpl.InstallScript, "[[")
}

func TestImport_InstallScript_TestBracketLoweringLeavesOtherEqualsAlone(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh",
		"scripts": {"installation": {"script": "#!/bin/bash\ncurl -o x y\nif [[ $A == $B ]]; then\n  echo $((1==2))\n  curl \"https://x?a=1==2\"\nfi"}}
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.Contains(t, tmpl.InstallScript, "[ $A = $B ]")
	require.Contains(t, tmpl.InstallScript, "$((1==2))", "== outside a test bracket must survive")
	require.Contains(t, tmpl.InstallScript, `a=1==2`, "== in a URL must survive")
}

func TestImport_InstallScript_InjectsPreflightWhenNoKnownToolsMentioned(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh",
		"scripts": {"installation": {"script": "#!/bin/bash\necho hi"}}
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.Contains(t, tmpl.InstallScript, "which curl")
	require.Contains(t, tmpl.InstallScript, "set -e")
}

func TestImport_InstallScript_SkipsPreflightWhenToolsAlreadyPresent(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh",
		"scripts": {"installation": {"script": "#!/bin/bash\ncurl -o x y\nset -e"}}
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.NotContains(t, tmpl.InstallScript, "which curl")
}

func TestImport_StopToken_MapsControlAndSignalForms(t *testing.T) {
	cases := map[string]types.StopSignal{
		"^C":      types.SignalSIGINT,
		"SIGINT":  types.SignalSIGINT,
		"SIGTERM": types.SignalSIGTERM,
		"SIGKILL": types.SignalSIGKILL,
	}
	for stop, want := range cases {
		raw := []byte(`{"docker_images":{"default":"game/server:1"},"startup":"./start.sh","stop":"` + stop + `"}`)
		tmpl, _, err := Import(raw)
		require.NoError(t, err)
		require.Equal(t, "", tmpl.Stop.Command)
		require.Equal(t, want, tmpl.Stop.Signal)
	}
}

func TestImport_StopToken_UnrecognizedTokenBecomesCommand(t *testing.T) {
	raw := []byte(`{"docker_images":{"default":"game/server:1"},"startup":"./start.sh","stop":"save-all"}`)
	tmpl, _, err := Import(raw)
	require.NoError(t, err)
	require.Equal(t, "save-all", tmpl.Stop.Command)
	require.Equal(t, types.SignalSIGTERM, tmpl.Stop.Signal)
}

func TestImport_SynthesizesReferencedBuiltinVariables(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh -Xmx${SERVER_MEMORY}M -p ${SERVER_PORT}"
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)

	names := map[string]string{}
	for _, v := range tmpl.Variables {
		names[v.Name] = v.Default
	}
	require.Equal(t, "1024", names["SERVER_MEMORY"])
	require.Equal(t, "25565", names["SERVER_PORT"])
	_, hasTZ := names["TZ"]
	require.False(t, hasTZ, "TZ is only synthesized when actually referenced")
}

func TestImport_DoesNotDuplicateAlreadyDeclaredBuiltin(t *testing.T) {
	raw := []byte(`{
		"docker_images": {"default": "game/server:1"},
		"startup": "./start.sh -p ${SERVER_PORT}",
		"variables": [{"name": "Port", "env_variable": "SERVER_PORT", "default_value": "19132"}]
	}`)

	tmpl, _, err := Import(raw)
	require.NoError(t, err)

	count := 0
	var def string
	for _, v := range tmpl.Variables {
		if v.Name == "SERVER_PORT" {
			count++
			def = v.Default
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, "19132", def)
}

func TestImport_MissingRequiredFieldsReportedForNativeTemplate(t *testing.T) {
	raw := []byte(`{"id":"tmpl-1"}`)
	_, missing, err := Import(raw)
	require.NoError(t, err)
	require.Contains(t, missing, "image")
	require.Contains(t, missing, "startup_command")
}

func TestImport_NativeTemplateRoundTrips(t *testing.T) {
	raw := []byte(`{"id":"tmpl-1","image":"game/server:latest","startup_command":"./start.sh {{MAX_PLAYERS}}","variables":[{"Name":"MAX_PLAYERS","Default":"20"}]}`)
	tmpl, missing, err := Import(raw)
	require.NoError(t, err)
	require.Empty(t, missing)
	require.Equal(t, "tmpl-1", tmpl.ID)
	require.Equal(t, "game/server:latest", tmpl.Image)
}
