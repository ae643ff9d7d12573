package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/supervisor/pkg/service"
)

func mustParse(t *testing.T, body string) *ServiceDescription {
	t.Helper()
	desc, err := Parse(strings.NewReader(body), "under-test", "test-file")
	require.NoError(t, err)
	return desc
}

func TestParseFillsIdentityAndDescription(t *testing.T) {
	desc := mustParse(t, "# a comment\ntype = internal\ndescription = A test service\n")

	assert.Equal(t, "under-test", desc.Name)
	assert.Equal(t, service.TypeInternal, desc.Type)
	assert.Equal(t, "A test service", desc.Description)
}

func TestParseProcessServiceFields(t *testing.T) {
	desc := mustParse(t, `
type = process
command = /usr/bin/myservice --flag
stop-command = /usr/bin/myservice --stop
working-dir = /var/lib/myservice
restart = on-failure
stop-timeout = 30
start-timeout = 60
term-signal = SIGTERM
`)

	assert.Equal(t, service.TypeProcess, desc.Type)
	require.Equal(t, []string{"/usr/bin/myservice", "--flag"}, desc.Command)
	assert.Equal(t, service.RestartOnFailure, desc.AutoRestart)
	assert.Equal(t, 30.0, desc.StopTimeout.Seconds())
	assert.Equal(t, 60.0, desc.StartTimeout.Seconds())
	assert.Equal(t, "/var/lib/myservice", desc.WorkingDir)
}

func TestParseDependencyEdgesByKind(t *testing.T) {
	desc := mustParse(t, `
type = process
command = /usr/bin/myservice
depends-on: network
depends-on: syslog
waits-for: dbus
depends-ms: mount-fs
before: shutdown
after: early-boot
`)

	assert.Equal(t, []string{"network", "syslog"}, desc.DependsOn)
	assert.Equal(t, []string{"dbus"}, desc.WaitsFor)
	assert.Equal(t, []string{"mount-fs"}, desc.DependsMS)
	assert.Equal(t, []string{"shutdown"}, desc.Before)
	assert.Equal(t, []string{"early-boot"}, desc.After)
}

func TestParseOptionsAssignReplacesFlags(t *testing.T) {
	desc := mustParse(t, "type = process\ncommand = /usr/bin/myservice\noptions = runs-on-console signal-process-only\n")

	assert.True(t, desc.Flags.RunsOnConsole)
	assert.True(t, desc.Flags.SignalProcessOnly)
	assert.False(t, desc.Flags.AlwaysChain)
}

func TestParseOptionsAppendAddsToFlags(t *testing.T) {
	desc := mustParse(t, "type = process\ncommand = /usr/bin/myservice\noptions = runs-on-console\noptions += always-chain\n")

	assert.True(t, desc.Flags.RunsOnConsole)
	assert.True(t, desc.Flags.AlwaysChain)
}

func TestParseRejectsUnknownSetting(t *testing.T) {
	_, err := Parse(strings.NewReader("type = process\ncommand = /usr/bin/myservice\nunknown-setting = value\n"), "svc", "test-file")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown setting")
}

func TestParseRejectsWrongOperator(t *testing.T) {
	_, err := Parse(strings.NewReader("type = process\ncommand = /usr/bin/myservice\ndepends-on = syslog\n"), "svc", "test-file")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid operator")
}

func TestParseQuotedCommandWords(t *testing.T) {
	desc := mustParse(t, `type = process
command = /usr/bin/myservice "hello world" --flag
`)

	require.Len(t, desc.Command, 3)
	assert.Equal(t, "hello world", desc.Command[1])
}

func TestParseTermSignalAcceptsNameOrNumber(t *testing.T) {
	for _, spelling := range []string{"SIGTERM", "TERM", "15"} {
		t.Run(spelling, func(t *testing.T) {
			_, err := Parse(strings.NewReader("type = process\ncommand = /bin/true\nterm-signal = "+spelling+"\n"), "svc", "test-file")
			assert.NoError(t, err)
		})
	}
}

func TestParseBooleanSettingValues(t *testing.T) {
	cases := []struct {
		value   string
		wantErr bool
	}{
		{"yes", false},
		{"true", false},
		{"no", false},
		{"invalid", true},
	}

	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			_, err := Parse(strings.NewReader("type = process\ncommand = /bin/true\nsmooth-recovery = "+tc.value+"\n"), "svc", "test-file")
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitCommandWordBreaking(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"single word", "/usr/bin/foo", []string{"/usr/bin/foo"}},
		{"bare words", "/usr/bin/foo bar baz", []string{"/usr/bin/foo", "bar", "baz"}},
		{"double quoted", `/usr/bin/foo "hello world"`, []string{"/usr/bin/foo", "hello world"}},
		{"single quoted", `/usr/bin/foo 'hello world'`, []string{"/usr/bin/foo", "hello world"}},
		{"backslash escape", `/usr/bin/foo hello\ world`, []string{"/usr/bin/foo", "hello world"}},
		{"empty", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, splitCommand(tc.input))
		})
	}
}

func TestForwardCompatSettingsAreAcceptedButIgnored(t *testing.T) {
	desc := mustParse(t, "type = process\ncommand = /bin/true\nnice = -5\nrlimit-nofile = 1024\n")
	assert.Equal(t, service.TypeProcess, desc.Type)
}
